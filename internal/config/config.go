package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Host tools
	VirshBinary string `mapstructure:"virsh-binary"`
	LibvirtURI  string `mapstructure:"libvirt-uri"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory for descriptors, images and pool targets
	ScratchDir string `mapstructure:"scratch-dir"`

	// S3 configuration for s3:// descriptor sources
	S3Region    string `mapstructure:"s3-region"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// Backing devices
	ImageSize string `mapstructure:"image-size"`

	// Security limits
	MaxDescriptorSize int64 `mapstructure:"max-descriptor-size"`

	// Output
	MetricsFile string `mapstructure:"metrics-file"`
	LogLevel    string `mapstructure:"log-level"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("virsh-binary", "virsh")
	viper.SetDefault("libvirt-uri", "")
	viper.SetDefault("sqlite-path", ".artifacts/runs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("scratch-dir", "/var/tmp/pool-create-check")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("image-size", "1G")
	viper.SetDefault("max-descriptor-size", 1024*1024)
	viper.SetDefault("metrics-file", "")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("fsm-max-retries", 3)

	// Environment variables (will be POOLCHECK_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("POOLCHECK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.pool-create-check")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.VirshBinary == "" {
		return fmt.Errorf("virsh-binary cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("scratch-dir cannot be empty")
	}
	if _, err := c.ImageSizeBytes(); err != nil {
		return err
	}
	if c.MaxDescriptorSize <= 0 {
		return fmt.Errorf("max-descriptor-size must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.FSMMaxRetries < 1 {
		return fmt.Errorf("fsm-max-retries must be at least 1")
	}
	return nil
}

// ImageSizeBytes parses ImageSize ("1G", "512MiB", ...)
func (c *Config) ImageSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.ImageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid image-size %q: %w", c.ImageSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("image-size must be positive")
	}
	return int64(n), nil
}

// Level maps LogLevel to a slog level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
