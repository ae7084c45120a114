package rawdev

import (
	"fmt"

	"github.com/flashprobe/f3probe/pkg/device"
)

// platformHandle is the narrow, OS-specific surface Device needs:
// positioned direct I/O, a durability-plus-cache-purge barrier, size
// and sector-size discovery, and close. Each supported OS provides
// openPlatform; unsupported platforms provide a stub that always
// fails with ErrUnsupported (see device_other.go).
type platformHandle interface {
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
	// Barrier makes prior writes durable and advises the OS to drop
	// its cached copy of the just-written range, so a subsequent read
	// observes the device, not the page cache.
	Barrier() error
	Close() error
}

// Device is the raw block-device adapter.
type Device struct {
	handle   platformHandle
	filename string
	sizeByte uint64
	order    uint8

	resetType ResetType
	topology  UsbTopology
	waiter    DeviceEventWaiter
	prompt    func(string)

	// valid is false after a reset step fails partway through; once
	// false, the handle is assumed stale and every subsequent
	// operation fails fast rather than acting on it.
	valid bool
}

var _ device.Device = (*Device)(nil)

// New opens the block device named by opts.Filename for direct,
// unbuffered access and queries its size and logical sector size.
func New(opts Options) (*Device, error) {
	if opts.ResetType == ResetProgrammaticUSB || opts.ResetType == ResetManualUSB {
		if opts.Topology == nil {
			return nil, unsupported("create_block_device", "a UsbTopology is required for USB reset policies")
		}
	}
	if opts.ResetType == ResetManualUSB && opts.Waiter == nil {
		return nil, unsupported("create_block_device", "a DeviceEventWaiter is required for the manual USB reset policy")
	}

	handle, sizeByte, order, err := openPlatform(opts.Filename)
	if err != nil {
		return nil, err
	}

	return &Device{
		handle:    handle,
		filename:  opts.Filename,
		sizeByte:  sizeByte,
		order:     order,
		resetType: opts.ResetType,
		topology:  opts.Topology,
		waiter:    opts.Waiter,
		prompt:    opts.Prompt,
		valid:     true,
	}, nil
}

func (d *Device) SizeByte() uint64  { return d.sizeByte }
func (d *Device) BlockOrder() uint8 { return d.order }
func (d *Device) Filename() string  { return d.filename }

func (d *Device) ReadBlocks(buf []byte, firstPos, lastPos uint64) error {
	if !d.valid {
		return &device.OpError{Op: "read_blocks", Err: fmt.Errorf("%w: handle invalidated by a prior failed reset", device.ErrDeviceGone)}
	}
	if err := device.CheckRange(d.sizeByte, d.order, firstPos, lastPos); err != nil {
		return err
	}
	off := int64(firstPos << d.order)
	if err := d.handle.ReadAt(buf, off); err != nil {
		return &device.OpError{Op: "read_blocks", Pos: fmt.Sprintf("[%d,%d]", firstPos, lastPos), Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	return nil
}

func (d *Device) WriteBlocks(buf []byte, firstPos, lastPos uint64) error {
	if !d.valid {
		return &device.OpError{Op: "write_blocks", Err: fmt.Errorf("%w: handle invalidated by a prior failed reset", device.ErrDeviceGone)}
	}
	if err := device.CheckRange(d.sizeByte, d.order, firstPos, lastPos); err != nil {
		return err
	}
	off := int64(firstPos << d.order)
	if err := d.handle.WriteAt(buf, off); err != nil {
		return &device.OpError{Op: "write_blocks", Pos: fmt.Sprintf("[%d,%d]", firstPos, lastPos), Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	// Every write is followed by a durability barrier and a page-cache
	// purge advisory: without it the prober would observe the OS
	// cache, not the device under test.
	if err := d.handle.Barrier(); err != nil {
		return &device.OpError{Op: "write_blocks", Pos: fmt.Sprintf("[%d,%d]", firstPos, lastPos), Err: fmt.Errorf("%w: barrier: %v", device.ErrIO, err)}
	}
	return nil
}

func (d *Device) Close() error {
	if err := d.handle.Close(); err != nil {
		return &device.OpError{Op: "close", Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	return nil
}
