//go:build !linux
// +build !linux

package backing

import (
	"context"
	"fmt"
	"runtime"
)

// StubManager refuses to provision on non-Linux systems
type StubManager struct{}

// NewManager creates a stub manager on non-Linux systems
func NewManager(imageDir string, imageSize int64) (Manager, error) {
	return &StubManager{}, nil
}

func (m *StubManager) Provision(ctx context.Context, name string) (*Device, error) {
	return nil, fmt.Errorf("iscsi backing devices not supported on %s", runtime.GOOS)
}

func (m *StubManager) Release(ctx context.Context, dev *Device) error {
	if dev == nil {
		return nil
	}
	return fmt.Errorf("iscsi backing devices not supported on %s", runtime.GOOS)
}

func (m *StubManager) Close() error {
	return nil
}
