package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/storage"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors s3://<bucket>/<prefix>",
	Short: "List pool descriptors stored in S3",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescriptors,
}

func init() {
	rootCmd.AddCommand(descriptorsCmd)
}

func runDescriptors(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bucket, prefix, err := storage.ParseURL(args[0])
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx, cfg.S3Region, cfg.S3Anonymous)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	keys, err := client.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintln(out, "No descriptors found")
		return nil
	}
	for _, key := range keys {
		fmt.Fprintf(out, "s3://%s/%s\n", bucket, key)
	}
	return nil
}
