// Package device defines the abstract block device contract shared by
// every layer of the device stack (file emulator, raw block adapter,
// and the performance/safety wrappers that compose over them), plus
// the counterfeit-classification model the prober reports against.
package device

import "fmt"

// Device is the contract every layer of the device stack implements.
// Wrapping a Device transfers ownership inward: the wrapper's Close
// is responsible for closing (or otherwise disposing of) the device
// it wraps.
//
// All positions are zero-based block indices. Implementations must
// reject first > last or last >= SizeByte()>>BlockOrder() with an
// error wrapping ErrInvalidArgument.
type Device interface {
	// SizeByte returns the device's announced size in bytes. Constant
	// across the device's lifetime.
	SizeByte() uint64

	// BlockOrder returns log2 of the device's block size in bytes.
	// Constant across the device's lifetime; 9 <= BlockOrder() <= 20.
	BlockOrder() uint8

	// Filename returns the device's current backing path or name. It
	// may change across a Reset (e.g. a manual USB reset may reattach
	// the device under a different path).
	Filename() string

	// ReadBlocks reads the inclusive range [firstPos, lastPos] into
	// buf, which must be exactly (lastPos-firstPos+1)<<BlockOrder()
	// bytes.
	ReadBlocks(buf []byte, firstPos, lastPos uint64) error

	// WriteBlocks writes buf, which must be exactly
	// (lastPos-firstPos+1)<<BlockOrder() bytes, to [firstPos, lastPos].
	WriteBlocks(buf []byte, firstPos, lastPos uint64) error

	// Reset re-initializes the device and, where supported, clears any
	// volatile on-device write cache. A no-op Reset that always
	// succeeds is a valid implementation.
	Reset() error

	// Close releases resources owned by this device, recursively
	// closing any device it wraps after performing its own
	// end-of-life action.
	Close() error
}

// BlockSize returns 1<<order, the size in bytes of one block.
func BlockSize(order uint8) uint64 {
	return 1 << order
}

// CheckRange validates that [firstPos, lastPos] is a non-empty,
// in-range block span for a device of the given size and block order.
func CheckRange(sizeByte uint64, order uint8, firstPos, lastPos uint64) error {
	maxPos := (sizeByte >> order) - 1
	if firstPos > lastPos {
		return &OpError{Op: "range", Pos: fmt.Sprintf("[%d,%d]", firstPos, lastPos), Err: fmt.Errorf("%w: first_pos > last_pos", ErrInvalidArgument)}
	}
	if lastPos > maxPos {
		return &OpError{Op: "range", Pos: fmt.Sprintf("[%d,%d]", firstPos, lastPos), Err: fmt.Errorf("%w: last_pos %d exceeds max position %d", ErrInvalidArgument, lastPos, maxPos)}
	}
	return nil
}
