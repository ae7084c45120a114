package rawdev

import (
	"fmt"

	"github.com/flashprobe/f3probe/pkg/device"
)

// Reset re-initializes the device per the policy selected at
// construction. Failure of any step invalidates the handle so
// subsequent operations fail fast rather than acting on a stale
// descriptor.
func (d *Device) Reset() error {
	var err error
	switch d.resetType {
	case ResetNone:
		return nil
	case ResetProgrammaticUSB:
		err = d.resetProgrammaticUSB()
	case ResetManualUSB:
		err = d.resetManualUSB()
	default:
		err = unsupported("reset", fmt.Sprintf("unknown reset type %d", d.resetType))
	}
	if err != nil {
		d.valid = false
		return err
	}
	return nil
}

func (d *Device) resetProgrammaticUSB() error {
	usbPath, err := d.topology.ParentUSBDevicePath(d.filename)
	if err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: resolve parent usb device: %v", device.ErrDeviceGone, err)}
	}

	if err := d.handle.Close(); err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: close before reset: %v", device.ErrIO, err)}
	}

	if err := d.topology.ResetUSBDevice(usbPath); err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: usb reset: %v", device.ErrDeviceGone, err)}
	}

	handle, sizeByte, order, err := openPlatform(d.filename)
	if err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: reopen after reset: %v", device.ErrDeviceGone, err)}
	}
	d.handle, d.sizeByte, d.order = handle, sizeByte, order
	return nil
}

func (d *Device) resetManualUSB() error {
	stableID, err := d.topology.StableID(d.filename)
	if err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: resolve stable id: %v", device.ErrDeviceGone, err)}
	}

	if err := d.handle.Close(); err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: close before reset: %v", device.ErrIO, err)}
	}

	if d.prompt != nil {
		d.prompt(fmt.Sprintf("Please unplug and reattach the device currently at %q, then wait.", d.filename))
	}

	// This is the only externally-driven wait in the core and it is
	// uncancellable by design (spec.md §5): there is no timeout or
	// cooperative suspension point here, matching the original's
	// blocking wait on an OS device-event queue.
	if err := d.waiter.WaitForRemove(stableID); err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: wait for remove: %v", device.ErrDeviceGone, err)}
	}
	newPath, err := d.waiter.WaitForAdd(stableID)
	if err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: wait for add: %v", device.ErrDeviceGone, err)}
	}

	handle, sizeByte, order, err := openPlatform(newPath)
	if err != nil {
		return &device.OpError{Op: "reset", Err: fmt.Errorf("%w: reopen after reattach: %v", device.ErrDeviceGone, err)}
	}
	d.handle, d.sizeByte, d.order, d.filename = handle, sizeByte, order, newPath
	return nil
}
