package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/virtqa/pool-create-check/internal/config"
	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/db"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/provision"
	"github.com/virtqa/pool-create-check/pkg/security"
	"github.com/virtqa/pool-create-check/pkg/storage"
	"github.com/virtqa/pool-create-check/pkg/virsh"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, scratchDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for durable runs)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create scratch directory
	if scratchDir != "" {
		if err := os.MkdirAll(scratchDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create scratch directory")
		}
	}

	return nil
}

// loadConfig loads and validates the configuration and applies the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	level, _ := cfg.Level()
	LogLevel.Set(level)
	return cfg, nil
}

// environment bundles what commands touching the host need
type environment struct {
	cfg       *config.Config
	repo      *db.Repository
	host      *virsh.Client
	devices   backing.Manager
	prov      *provision.Provisioner
	validator *security.Validator
}

func newEnvironment(cfg *config.Config) (*environment, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.ScratchDir); err != nil {
		return nil, err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}

	imageSize, _ := cfg.ImageSizeBytes()
	devices, err := backing.NewManager(filepath.Join(cfg.ScratchDir, "images"), imageSize)
	if err != nil {
		// Only device backed pool types need it.
		slog.Warn("backing_devices_unavailable", "error", err)
		devices = nil
	}

	host := virsh.NewClient(cfg.VirshBinary, cfg.LibvirtURI, virsh.ExecRunner{})

	return &environment{
		cfg:       cfg,
		repo:      repo,
		host:      host,
		devices:   devices,
		prov:      provision.New(host, devices, virsh.ExecRunner{}, cfg.ScratchDir),
		validator: security.NewValidator(cfg.ScratchDir, cfg.MaxDescriptorSize),
	}, nil
}

func (e *environment) Close() {
	if e.devices != nil {
		e.devices.Close()
	}
	e.repo.Close()
}

func newFetcher(cfg *config.Config) *storage.Fetcher {
	return &storage.Fetcher{
		MaxSize: cfg.MaxDescriptorSize,
		NewS3: func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx, cfg.S3Region, cfg.S3Anonymous)
		},
	}
}
