// Package storage fetches pool descriptors from local paths and S3.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/virtqa/pool-create-check/pkg/errors"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
}

// NewClient creates a new S3 client. With anonymous set it reads public
// buckets without credentials.
func NewClient(ctx context.Context, region string, anonymous bool) (*Client, error) {
	slog.Info("s3_client_init", "region", region, "anonymous", anonymous)

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{s3Client: s3.NewFromConfig(cfg)}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// ParseURL splits s3://bucket/key.
func ParseURL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 url without bucket: %s", raw)
	}
	return bucket, key, nil
}

// Download downloads an object from S3 and computes SHA256. Objects larger
// than maxSize are rejected; zero means unbounded.
func (c *Client) Download(ctx context.Context, bucket, key, localPath string, maxSize int64) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", bucket, "key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	if maxSize > 0 && result.ContentLength != nil && *result.ContentLength > maxSize {
		slog.Error("s3_object_too_large", "key", key, "size_bytes", *result.ContentLength, "max_bytes", maxSize)
		return nil, fmt.Errorf("descriptor size %d exceeds maximum %d", *result.ContentLength, maxSize)
	}

	res, err := copyWithChecksum(result.Body, localPath, maxSize)
	if err != nil {
		slog.Error("s3_download_failed", "key", key, "error", err)
		return nil, err
	}

	slog.Info("s3_download_complete",
		"key", key,
		"size_bytes", res.Size,
		"local_path", localPath,
		"sha256", res.SHA256[:16]+"...",
	)
	return res, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// copyWithChecksum stops reading one byte past maxSize and removes the
// partial file when the limit is crossed.
func copyWithChecksum(r io.Reader, localPath string, maxSize int64) (*DownloadResult, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to copy descriptor")
	}
	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(localPath)
		return nil, fmt.Errorf("descriptor exceeds maximum size %d", maxSize)
	}

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		Size:      size,
	}, nil
}
