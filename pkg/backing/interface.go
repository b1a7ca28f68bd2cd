package backing

import "context"

// Device describes an emulated iSCSI block device.
type Device struct {
	Name   string // backstore name
	Target string // iSCSI qualified name
	Portal string
	Path   string // local block device after login, e.g. /dev/sdb
	Image  string // backing image file
	Size   int64
}

// Manager provisions and releases iSCSI backing devices
type Manager interface {
	// Provision creates an image, exports it and logs in to it
	Provision(ctx context.Context, name string) (*Device, error)

	// Release logs out and removes whatever Provision created. It accepts
	// partially provisioned devices.
	Release(ctx context.Context, dev *Device) error

	// Close cleans up resources
	Close() error
}
