// Package rawdev implements the raw block-device adapter: direct,
// unbuffered I/O against an OS block device, with a durability
// barrier and cache-purge advisory after every write so the OS page
// cache can never mask a counterfeit's behavior, plus three
// pluggable reset policies.
package rawdev

import (
	"fmt"

	"github.com/flashprobe/f3probe/pkg/device"
)

// ResetType selects how Device.Reset behaves.
type ResetType int

const (
	// ResetNone makes Reset a no-op that always succeeds.
	ResetNone ResetType = iota
	// ResetProgrammaticUSB closes the descriptor, asks the UsbTopology
	// to issue a USB port reset on the parent USB device, and reopens
	// under the same path.
	ResetProgrammaticUSB
	// ResetManualUSB closes the descriptor, prompts the user to
	// unplug and reattach the device, waits for a DeviceEventWaiter
	// to observe a matching attach, and reopens — possibly under a
	// new path, which is re-published via Filename().
	ResetManualUSB
)

// UsbTopology abstracts the OS-specific walk from a block-device path
// to its parent USB device, and the USB-level reset primitive. Only
// the production Linux implementation backs this with sysfs;
// tests and other platforms may supply a fake.
type UsbTopology interface {
	// ParentUSBDevicePath resolves the parent USB device for the
	// block device at blockDevicePath.
	ParentUSBDevicePath(blockDevicePath string) (string, error)
	// ResetUSBDevice issues a USB port reset on the device at usbPath.
	ResetUSBDevice(usbPath string) error
	// StableID returns an identifier for the device at
	// blockDevicePath that survives a reattachment under a different
	// path (e.g. a USB serial number).
	StableID(blockDevicePath string) (string, error)
}

// DeviceEventWaiter abstracts the OS device-event stream used by the
// manual USB reset policy.
type DeviceEventWaiter interface {
	// WaitForRemove blocks until the device identified by stableID is
	// removed.
	WaitForRemove(stableID string) error
	// WaitForAdd blocks until a block device identified by stableID
	// attaches, returning the path it attached under.
	WaitForAdd(stableID string) (path string, err error)
}

// Options configures a new raw Device.
type Options struct {
	// Filename is the block device's path, e.g. "/dev/sdb".
	Filename string

	// ResetType selects the reset policy; see the ResetType constants.
	ResetType ResetType

	// Topology is required for ResetProgrammaticUSB and
	// ResetManualUSB.
	Topology UsbTopology

	// Waiter is required for ResetManualUSB.
	Waiter DeviceEventWaiter

	// Prompt, if non-nil, is called with a human-readable message
	// before ResetManualUSB waits for the device to be removed. The
	// core never renders progress UI itself (spec.md §1); this is the
	// one externally-driven wait the design calls out as
	// uncancellable by nature (spec.md §5), not a progress widget.
	Prompt func(message string)
}

func unsupported(op string, reason string) error {
	return &device.OpError{Op: op, Err: fmt.Errorf("%w: %s", device.ErrUnsupported, reason)}
}
