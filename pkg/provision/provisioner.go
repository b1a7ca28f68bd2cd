// Package provision creates, inspects and tears down the pre-existing pool
// a scenario collides with.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/virsh"
	"go.uber.org/multierr"
)

// Host is the subset of virsh the provisioner needs.
type Host interface {
	PoolExists(ctx context.Context, name string) (bool, error)
	PoolCreateAs(ctx context.Context, name, poolType string, opts virsh.CreateAsOptions) error
	PoolDumpXML(ctx context.Context, name string) (string, error)
	PoolUUID(ctx context.Context, name string) (string, error)
	PoolInfo(ctx context.Context, name string) (*virsh.PoolInfo, error)
	PoolDestroy(ctx context.Context, name string) error
	PoolUndefine(ctx context.Context, name string) error
}

// Spec describes the pool to pre-provision.
type Spec struct {
	Name         string
	Type         string
	SourceFormat string
	SourceName   string
	SourcePath   string
	TargetPath   string
}

// Pool is a handle to a provisioned pool and what backs it.
type Pool struct {
	Name          string
	Type          string
	TargetPath    string
	CreatedTarget bool
	VolumeGroup   string
	Device        *backing.Device
}

// Provisioner manages pools and their backing devices on the host.
type Provisioner struct {
	host       Host
	devices    backing.Manager
	cmd        virsh.Runner
	scratchDir string
}

// New creates a provisioner. devices may be nil when only dir pools are used.
func New(host Host, devices backing.Manager, cmd virsh.Runner, scratchDir string) *Provisioner {
	if cmd == nil {
		cmd = virsh.ExecRunner{}
	}
	return &Provisioner{host: host, devices: devices, cmd: cmd, scratchDir: scratchDir}
}

// Exists reports whether a pool of that name is known to the host.
func (p *Provisioner) Exists(ctx context.Context, name string) (bool, error) {
	return p.host.PoolExists(ctx, name)
}

// Provision creates a transient pool per spec. On failure everything it
// created is released again.
func (p *Provisioner) Provision(ctx context.Context, spec Spec) (_ *Pool, err error) {
	slog.Info("provision_pool_start", "pool", spec.Name, "type", spec.Type)

	pool := &Pool{Name: spec.Name, Type: spec.Type}
	defer func() {
		if err != nil {
			if terr := p.Teardown(context.WithoutCancel(ctx), pool); terr != nil {
				slog.Warn("provision_rollback_failed", "pool", spec.Name, "error", terr)
			}
		}
	}()

	opts := virsh.CreateAsOptions{SourceFormat: spec.SourceFormat}

	switch spec.Type {
	case "dir":
		if err := p.prepareTarget(pool, spec.TargetPath); err != nil {
			return nil, err
		}
		opts.Target = pool.TargetPath

	case "fs":
		dev, err := p.ProvisionDevice(ctx, "emulated-"+spec.Name)
		if err != nil {
			return nil, err
		}
		pool.Device = dev
		format := spec.SourceFormat
		if format == "" {
			format = "ext4"
		}
		if err := p.mkfs(ctx, format, dev.Path); err != nil {
			return nil, err
		}
		if err := p.prepareTarget(pool, spec.TargetPath); err != nil {
			return nil, err
		}
		opts.SourceDev = dev.Path
		opts.SourceFormat = format
		opts.Target = pool.TargetPath

	case "disk":
		dev, err := p.ProvisionDevice(ctx, "emulated-"+spec.Name)
		if err != nil {
			return nil, err
		}
		pool.Device = dev
		opts.SourceDev = dev.Path
		opts.Target = "/dev"
		opts.Build = true

	case "logical":
		dev, err := p.ProvisionDevice(ctx, "emulated-"+spec.Name)
		if err != nil {
			return nil, err
		}
		pool.Device = dev
		pool.VolumeGroup = spec.SourceName
		if pool.VolumeGroup == "" {
			pool.VolumeGroup = spec.Name
		}
		opts.SourceDev = dev.Path
		opts.SourceName = pool.VolumeGroup
		opts.Target = "/dev/" + pool.VolumeGroup
		opts.Build = true

	case "iscsi":
		dev, err := p.ProvisionDevice(ctx, "emulated-"+spec.Name)
		if err != nil {
			return nil, err
		}
		pool.Device = dev
		opts.SourceHost = "127.0.0.1"
		opts.SourceDev = dev.Target
		opts.SourceFormat = ""
		opts.Target = "/dev/disk/by-path"

	default:
		return nil, fmt.Errorf("unsupported pool type %q", spec.Type)
	}

	if err := p.host.PoolCreateAs(ctx, spec.Name, spec.Type, opts); err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}

	slog.Info("provision_pool_complete", "pool", spec.Name, "type", spec.Type, "target", opts.Target)
	return pool, nil
}

// Dump returns the current on-host descriptor of the pool.
func (p *Provisioner) Dump(ctx context.Context, pool *Pool) (string, error) {
	return p.host.PoolDumpXML(ctx, pool.Name)
}

// UUID returns the pool's current UUID.
func (p *Provisioner) UUID(ctx context.Context, pool *Pool) (string, error) {
	return p.host.PoolUUID(ctx, pool.Name)
}

// Inspect returns pool-info for name.
func (p *Provisioner) Inspect(ctx context.Context, name string) (*virsh.PoolInfo, error) {
	return p.host.PoolInfo(ctx, name)
}

// DestroyTransient stops a pool. A pool that is already gone is fine.
func (p *Provisioner) DestroyTransient(ctx context.Context, name string) error {
	exists, err := p.host.PoolExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		slog.Info("pool_already_gone", "pool", name)
		return nil
	}
	if err := p.host.PoolDestroy(ctx, name); err != nil {
		return errors.Wrapf(err, "failed to destroy pool %s", name)
	}
	return nil
}

// RemovePool destroys an active pool and undefines a persistent one.
func (p *Provisioner) RemovePool(ctx context.Context, name string) error {
	exists, err := p.host.PoolExists(ctx, name)
	if err != nil || !exists {
		return err
	}
	info, err := p.host.PoolInfo(ctx, name)
	if err != nil {
		return err
	}

	var errs error
	if info.Active() {
		errs = multierr.Append(errs, p.host.PoolDestroy(ctx, name))
	}
	if info.Persistent {
		errs = multierr.Append(errs, p.host.PoolUndefine(ctx, name))
	}
	return errs
}

// ProvisionDevice creates a fresh iSCSI backing device.
func (p *Provisioner) ProvisionDevice(ctx context.Context, name string) (*backing.Device, error) {
	if p.devices == nil {
		return nil, fmt.Errorf("no iscsi backing device manager available")
	}
	dev, err := p.devices.Provision(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to provision backing device")
	}
	return dev, nil
}

// ReleaseDevice releases dev. Nil and partially provisioned devices are fine.
func (p *Provisioner) ReleaseDevice(ctx context.Context, dev *backing.Device) error {
	if dev == nil || p.devices == nil {
		return nil
	}
	return p.devices.Release(ctx, dev)
}

// Teardown removes the pool and everything provisioned for it.
func (p *Provisioner) Teardown(ctx context.Context, pool *Pool) error {
	if pool == nil {
		return nil
	}
	slog.Info("teardown_pool", "pool", pool.Name, "type", pool.Type)

	var errs error
	errs = multierr.Append(errs, p.RemovePool(ctx, pool.Name))

	if pool.VolumeGroup != "" && pool.Device != nil && pool.Device.Path != "" {
		p.bestEffort(ctx, "vgremove", "-f", pool.VolumeGroup)
		p.bestEffort(ctx, "pvremove", "-ff", "-y", pool.Device.Path)
	}
	errs = multierr.Append(errs, p.ReleaseDevice(ctx, pool.Device))

	if pool.CreatedTarget && pool.TargetPath != "" {
		if err := os.RemoveAll(pool.TargetPath); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "failed to remove pool target"))
		}
	}

	if errs != nil {
		slog.Error("teardown_pool_failed", "pool", pool.Name, "error", errs)
		return errs
	}
	slog.Info("teardown_pool_complete", "pool", pool.Name)
	return nil
}

// prepareTarget resolves a relative target under the scratch dir and
// creates it when missing.
func (p *Provisioner) prepareTarget(pool *Pool, target string) error {
	if target == "" {
		target = "pool_target"
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(p.scratchDir, target)
	}
	pool.TargetPath = target

	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return errors.Wrap(err, "failed to create pool target")
	}
	pool.CreatedTarget = true
	return nil
}

func (p *Provisioner) mkfs(ctx context.Context, format, device string) error {
	res, err := p.cmd.Run(ctx, "mkfs."+format, "-F", device)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("mkfs.%s %s failed: %s", format, device, res.Stderr)
	}
	return nil
}

func (p *Provisioner) bestEffort(ctx context.Context, name string, args ...string) {
	if res, err := p.cmd.Run(ctx, name, args...); err != nil || res.ExitStatus != 0 {
		slog.Warn("teardown_step_skipped", "command", name, "error", err)
	}
}
