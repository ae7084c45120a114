// Package perfdev wraps a Device with transparent timing and call
// counters, with no semantic effect on the wrapped device's behavior.
package perfdev

import (
	"time"

	"github.com/flashprobe/f3probe/pkg/device"
)

// Stats holds the six counters tracked by the wrapper: count and
// elapsed microseconds for each of read, write, and reset.
type Stats struct {
	ReadCount   uint64
	ReadTimeUs  uint64
	WriteCount  uint64
	WriteTimeUs uint64
	ResetCount  uint64
	ResetTimeUs uint64
}

// Device transparently delegates every Device method to an inner
// device while accumulating Stats. The core is strictly
// single-threaded (spec.md §5), so counters are plain fields rather
// than atomics.
type Device struct {
	inner device.Device
	stats Stats
}

var _ device.Device = (*Device)(nil)

// Wrap returns a new perf-counting wrapper around inner.
func Wrap(inner device.Device) *Device {
	return &Device{inner: inner}
}

// Stats returns a snapshot of the accumulated counters.
func (d *Device) Stats() Stats { return d.stats }

func (d *Device) SizeByte() uint64  { return d.inner.SizeByte() }
func (d *Device) BlockOrder() uint8 { return d.inner.BlockOrder() }
func (d *Device) Filename() string  { return d.inner.Filename() }

func (d *Device) ReadBlocks(buf []byte, firstPos, lastPos uint64) error {
	start := time.Now()
	err := d.inner.ReadBlocks(buf, firstPos, lastPos)
	d.stats.ReadCount += lastPos - firstPos + 1
	d.stats.ReadTimeUs += uint64(time.Since(start).Microseconds())
	return err
}

func (d *Device) WriteBlocks(buf []byte, firstPos, lastPos uint64) error {
	start := time.Now()
	err := d.inner.WriteBlocks(buf, firstPos, lastPos)
	d.stats.WriteCount += lastPos - firstPos + 1
	d.stats.WriteTimeUs += uint64(time.Since(start).Microseconds())
	return err
}

func (d *Device) Reset() error {
	start := time.Now()
	err := d.inner.Reset()
	d.stats.ResetCount++
	d.stats.ResetTimeUs += uint64(time.Since(start).Microseconds())
	return err
}

func (d *Device) Close() error { return d.inner.Close() }

// DetachAndFree unlinks the inner device from this wrapper and
// returns it to the caller, discarding only the wrapper and its
// accumulated counters. This lets the prober measure a sub-run and
// then shed the perf layer without destroying the device beneath.
func (d *Device) DetachAndFree() device.Device {
	inner := d.inner
	d.inner = nil
	return inner
}
