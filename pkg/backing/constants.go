package backing

import "fmt"

// Defaults for emulated iSCSI backing devices.
const (
	// DefaultImageSize is the size of the emulated image file (1GB)
	DefaultImageSize = 1024 * 1024 * 1024
	// DefaultPortal is the local target portal
	DefaultPortal = "127.0.0.1:3260"
	// IQNPrefix prefixes every target created here
	IQNPrefix = "iqn.2016-03.com.virttest"
	// DefaultLUN is the only LUN exported per target
	DefaultLUN = 0
)

// TargetName returns the iSCSI qualified name for a backstore name.
func TargetName(name string) string {
	return fmt.Sprintf("%s:%s.target", IQNPrefix, name)
}

// ByPathLink returns the udev by-path link of a logged-in LUN.
func ByPathLink(portal, target string, lun int) string {
	return fmt.Sprintf("/dev/disk/by-path/ip-%s-iscsi-%s-lun-%d", portal, target, lun)
}
