//go:build linux
// +build linux

package backing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/virtqa/pool-create-check/pkg/errors"
	"go.uber.org/multierr"
)

// LinuxManager exports file-backed LUNs with targetcli and attaches them
// with open-iscsi.
type LinuxManager struct {
	imageDir  string
	imageSize int64
	portal    string
}

// NewManager creates a Linux iSCSI backing manager
func NewManager(imageDir string, imageSize int64) (Manager, error) {
	slog.Info("backing_init", "image_dir", imageDir, "platform", "linux")

	if !isRoot() {
		slog.Error("backing_requires_root")
		return nil, fmt.Errorf("iscsi backing devices require root privileges")
	}

	for _, tool := range []string{"targetcli", "iscsiadm"} {
		if _, err := exec.LookPath(tool); err != nil {
			slog.Error("backing_tool_missing", "tool", tool)
			return nil, errors.Wrapf(err, "%s not found", tool)
		}
	}

	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}

	m := &LinuxManager{
		imageDir:  imageDir,
		imageSize: imageSize,
		portal:    DefaultPortal,
	}

	slog.Info("backing_ready", "portal", m.portal)
	return m, nil
}

func (m *LinuxManager) Provision(ctx context.Context, name string) (_ *Device, err error) {
	dev := &Device{
		Name:   name,
		Target: TargetName(name),
		Portal: m.portal,
		Size:   m.imageSize,
	}
	slog.Info("provision_device_start", "name", name, "target", dev.Target)

	// Release partial state so the caller never sees half a device.
	defer func() {
		if err != nil {
			if rerr := m.Release(context.WithoutCancel(ctx), dev); rerr != nil {
				slog.Warn("provision_rollback_failed", "name", name, "error", rerr)
			}
		}
	}()

	// Step 1: Sparse image file
	if err := os.MkdirAll(m.imageDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create image dir")
	}
	dev.Image = filepath.Join(m.imageDir, name+".img")
	f, err := os.OpenFile(dev.Image, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image")
	}
	if err := f.Truncate(m.imageSize); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to size image")
	}
	f.Close()

	// Step 2: Export it as a LUN of a fresh target
	tpg := fmt.Sprintf("/iscsi/%s/tpg1", dev.Target)
	steps := [][]string{
		{"/backstores/fileio", "create", name, dev.Image, fmt.Sprintf("%d", m.imageSize)},
		{"/iscsi", "create", dev.Target},
		{tpg + "/luns", "create", "/backstores/fileio/" + name},
		{tpg, "set", "attribute", "authentication=0", "demo_mode_write_protect=0",
			"generate_node_acls=1", "cache_dynamic_acls=1"},
	}
	for _, args := range steps {
		if err := run(ctx, "targetcli", args...); err != nil {
			return nil, errors.Wrap(err, "failed to export target")
		}
	}

	// Step 3: Discover and log in
	host := strings.Split(m.portal, ":")[0]
	if err := run(ctx, "iscsiadm", "--mode", "discovery", "--type", "sendtargets", "--portal", host); err != nil {
		return nil, errors.Wrap(err, "iscsi discovery failed")
	}
	if err := run(ctx, "iscsiadm", "--mode", "node", "--targetname", dev.Target, "--portal", m.portal, "--login"); err != nil {
		return nil, errors.Wrap(err, "iscsi login failed")
	}

	// Step 4: Wait for udev to publish the LUN
	path, err := waitForLink(ctx, ByPathLink(m.portal, dev.Target, DefaultLUN))
	if err != nil {
		return nil, err
	}
	dev.Path = path

	slog.Info("provision_device_complete", "name", name, "device_path", dev.Path, "size_mb", dev.Size/1024/1024)
	return dev, nil
}

func (m *LinuxManager) Release(ctx context.Context, dev *Device) error {
	if dev == nil {
		return nil
	}
	slog.Info("release_device", "name", dev.Name, "target", dev.Target)

	var errs error
	if dev.Target != "" {
		// Logout fails when the login never happened; not worth reporting.
		if err := run(ctx, "iscsiadm", "--mode", "node", "--targetname", dev.Target, "--portal", dev.Portal, "--logout"); err != nil {
			slog.Debug("iscsi_logout_skipped", "target", dev.Target, "error", err)
		}
		_ = run(ctx, "iscsiadm", "--mode", "node", "--targetname", dev.Target, "--op", "delete")
		if targetExists(ctx, dev.Target) {
			errs = multierr.Append(errs, run(ctx, "targetcli", "/iscsi", "delete", dev.Target))
		}
	}
	if dev.Name != "" && backstoreExists(ctx, dev.Name) {
		errs = multierr.Append(errs, run(ctx, "targetcli", "/backstores/fileio", "delete", dev.Name))
	}
	if dev.Image != "" {
		if err := os.Remove(dev.Image); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, errors.Wrap(err, "failed to remove image"))
		}
	}

	if errs != nil {
		slog.Error("release_device_failed", "name", dev.Name, "error", errs)
		return errs
	}
	slog.Info("device_released", "name", dev.Name)
	return nil
}

func (m *LinuxManager) Close() error {
	return nil
}

func run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		slog.Error("backing_command_failed", "command", name, "args", strings.Join(args, " "), "output", strings.TrimSpace(string(out)))
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func targetExists(ctx context.Context, target string) bool {
	return exec.CommandContext(ctx, "targetcli", "/iscsi/"+target, "ls").Run() == nil
}

func backstoreExists(ctx context.Context, name string) bool {
	return exec.CommandContext(ctx, "targetcli", "/backstores/fileio/"+name, "ls").Run() == nil
}

func waitForLink(ctx context.Context, link string) (string, error) {
	for i := 0; i < 20; i++ {
		if path, err := filepath.EvalSymlinks(link); err == nil {
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("device link %s did not appear", link)
}

func isRoot() bool {
	return os.Geteuid() == 0
}
