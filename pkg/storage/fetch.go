package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/virtqa/pool-create-check/pkg/errors"
)

// Fetcher copies descriptors from local paths or s3:// URLs.
type Fetcher struct {
	// NewS3 builds the S3 client on first use so local runs need no AWS
	// configuration.
	NewS3 func(ctx context.Context) (*Client, error)

	// MaxSize bounds the copy; zero means unbounded.
	MaxSize int64

	s3 *Client
}

// Fetch copies src to dst and returns its size and checksum.
func (f *Fetcher) Fetch(ctx context.Context, src, dst string) (*DownloadResult, error) {
	if strings.HasPrefix(src, "s3://") {
		bucket, key, err := ParseURL(src)
		if err != nil {
			return nil, err
		}
		client, err := f.client(ctx)
		if err != nil {
			return nil, err
		}
		return client.Download(ctx, bucket, key, dst, f.MaxSize)
	}

	in, err := os.Open(src)
	if err != nil {
		slog.Error("descriptor_open_failed", "path", src, "error", err)
		return nil, errors.Wrap(err, "failed to open descriptor")
	}
	defer in.Close()

	res, err := copyWithChecksum(in, dst, f.MaxSize)
	if err != nil {
		return nil, err
	}
	slog.Info("descriptor_copied", "src", src, "dst", dst, "size_bytes", res.Size)
	return res, nil
}

func (f *Fetcher) client(ctx context.Context) (*Client, error) {
	if f.s3 != nil {
		return f.s3, nil
	}
	if f.NewS3 == nil {
		return nil, fmt.Errorf("s3 descriptor sources are not configured")
	}
	c, err := f.NewS3(ctx)
	if err != nil {
		return nil, err
	}
	f.s3 = c
	return c, nil
}
