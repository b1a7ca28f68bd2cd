package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger; loadConfig sets it.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "pool-create-check",
	Short: "Validate storage pool creation from XML descriptors",
	Long: `Runs pool-create scenarios against the local virtualization host: optionally
pre-provisions a colliding pool, derives a descriptor from it, invokes
"virsh pool-create" and judges the outcome. Every run is journaled and
cleans up after itself.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("virsh-binary", "virsh", "virsh executable")
	rootCmd.PersistentFlags().String("libvirt-uri", "", "libvirt connection URI (empty for the default)")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/runs.db", "SQLite run journal path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("scratch-dir", "/var/tmp/pool-create-check", "Directory for descriptors, images and pool targets")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// descriptors")
	rootCmd.PersistentFlags().Bool("s3-anonymous", false, "Read s3:// descriptors without credentials")
	rootCmd.PersistentFlags().String("image-size", "1G", "Size of emulated iSCSI backing images")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"virsh-binary", "libvirt-uri", "sqlite-path", "fsm-db-path", "scratch-dir",
		"s3-region", "s3-anonymous", "image-size", "metrics-file", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
