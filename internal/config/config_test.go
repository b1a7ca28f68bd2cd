package config

import (
	"log/slog"
	"testing"
)

func validConfig() *Config {
	return &Config{
		VirshBinary:       "virsh",
		SQLitePath:        ".artifacts/runs.db",
		FSMDBPath:         ".artifacts/fsm.db",
		ScratchDir:        "/var/tmp/pool-create-check",
		ImageSize:         "1G",
		MaxDescriptorSize: 1024 * 1024,
		LogLevel:          "info",
		FSMMaxRetries:     3,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty virsh", func(c *Config) { c.VirshBinary = "" }, true},
		{"empty scratch", func(c *Config) { c.ScratchDir = "" }, true},
		{"bad image size", func(c *Config) { c.ImageSize = "lots" }, true},
		{"zero image size", func(c *Config) { c.ImageSize = "0" }, true},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }, true},
		{"zero retries", func(c *Config) { c.FSMMaxRetries = 0 }, true},
		{"zero descriptor size", func(c *Config) { c.MaxDescriptorSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestImageSizeBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1G", 1000 * 1000 * 1000},
		{"1GiB", 1 << 30},
		{"512MiB", 512 << 20},
	}

	for _, tt := range tests {
		c := validConfig()
		c.ImageSize = tt.in
		got, err := c.ImageSizeBytes()
		if err != nil || got != tt.want {
			t.Errorf("ImageSizeBytes(%s) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "debug"
	if level, err := c.Level(); err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v", level, err)
	}
}
