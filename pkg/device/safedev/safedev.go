// Package safedev wraps a Device with a write log that snapshots
// every block before it is overwritten, so the original contents can
// be restored with Recover or on Close.
package safedev

import (
	"fmt"

	"github.com/flashprobe/f3probe/internal/plog"
	"github.com/flashprobe/f3probe/pkg/device"
)

const bitsPerWord = 64

// Device is the snapshot/rollback wrapper. It owns exactly one
// contiguous snapshot arena and, unless MinMemory was requested, one
// bitmap; both are released on Close.
type Device struct {
	inner device.Device

	blockOrder uint8
	blockSize  uint64

	maxBlocks uint64
	positions []uint64 // append-only log, in first-write order
	arena     []byte   // maxBlocks * blockSize bytes

	// bitmap gives O(1) is-saved membership at the cost of one bit per
	// addressable position on the wrapped device. Nil in MinMemory
	// mode, where isBlockSaved falls back to an O(n) scan of
	// positions.
	bitmap []uint64
}

var _ device.Device = (*Device)(nil)

// New wraps inner with a safe-rollback log capable of holding at most
// maxBlocks distinct snapshotted positions. When minMemory is false
// (the default the prober uses), a bitmap sized to inner's full
// address space is allocated for O(1) membership tests — "memory
// heavy" per spec.md §4.6, but avoids an O(n) scan on every write.
func New(inner device.Device, maxBlocks uint64, minMemory bool) (*Device, error) {
	if maxBlocks == 0 {
		return nil, &device.OpError{Op: "create_safe_device", Err: fmt.Errorf("%w: max_blocks must be > 0", device.ErrInvalidArgument)}
	}

	order := inner.BlockOrder()
	d := &Device{
		inner:      inner,
		blockOrder: order,
		blockSize:  device.BlockSize(order),
		maxBlocks:  maxBlocks,
		positions:  make([]uint64, 0, maxBlocks),
		arena:      make([]byte, maxBlocks*device.BlockSize(order)),
	}

	if !minMemory {
		numBlocks := inner.SizeByte() >> order
		numWords := (numBlocks + bitsPerWord - 1) / bitsPerWord
		d.bitmap = make([]uint64, numWords)
	}

	return d, nil
}

func (d *Device) SizeByte() uint64  { return d.inner.SizeByte() }
func (d *Device) BlockOrder() uint8 { return d.blockOrder }
func (d *Device) Filename() string  { return d.inner.Filename() }

// Len reports how many distinct positions are currently snapshotted.
func (d *Device) Len() int { return len(d.positions) }

func (d *Device) isBlockSaved(pos uint64) bool {
	if d.bitmap == nil {
		for _, p := range d.positions {
			if p == pos {
				return true
			}
		}
		return false
	}
	word, bit := pos/bitsPerWord, pos%bitsPerWord
	return d.bitmap[word]&(uint64(1)<<bit) != 0
}

// markBlocks records [first,last] as saved, in order, after their
// contents have already been copied into the arena.
func (d *Device) markBlocks(first, last uint64) {
	for pos := first; pos <= last; pos++ {
		if d.bitmap != nil {
			word, bit := pos/bitsPerWord, pos%bitsPerWord
			d.bitmap[word] |= uint64(1) << bit
		}
		if uint64(len(d.positions)) >= d.maxBlocks {
			panic(fmt.Sprintf("safedev: snapshot log exceeded capacity %d; the caller sized the wrapper too small for this probe run", d.maxBlocks))
		}
		d.positions = append(d.positions, pos)
	}
}

// loadBlocks reads [first,last] from the inner device into the next
// free slots of the arena, then marks them saved.
func (d *Device) loadBlocks(first, last uint64) error {
	slot := uint64(len(d.positions))
	dst := d.arena[slot*d.blockSize : (slot+last-first+1)*d.blockSize]
	if err := d.inner.ReadBlocks(dst, first, last); err != nil {
		return err
	}
	d.markBlocks(first, last)
	return nil
}

// saveBlock batches [first,last] into contiguous un-saved runs and
// loads each run in one read-back call.
func (d *Device) saveBlock(first, last uint64) error {
	startPos := first
	for pos := first; pos <= last; pos++ {
		if d.isBlockSaved(pos) {
			if startPos < pos {
				if err := d.loadBlocks(startPos, pos-1); err != nil {
					return err
				}
			}
			startPos = pos + 1
		}
	}
	if startPos <= last {
		if err := d.loadBlocks(startPos, last); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) ReadBlocks(buf []byte, firstPos, lastPos uint64) error {
	return d.inner.ReadBlocks(buf, firstPos, lastPos)
}

func (d *Device) WriteBlocks(buf []byte, firstPos, lastPos uint64) error {
	if err := device.CheckRange(d.inner.SizeByte(), d.blockOrder, firstPos, lastPos); err != nil {
		return err
	}
	if err := d.saveBlock(firstPos, lastPos); err != nil {
		return err
	}
	return d.inner.WriteBlocks(buf, firstPos, lastPos)
}

func (d *Device) Reset() error { return d.inner.Reset() }

// carefullyRecover writes buffer (one or more contiguous blocks) back
// to [first,last] in one range write; on failure it falls back to
// per-block writes, warning but not aborting on individual failures,
// so recovery remains best-effort across the entire log.
func (d *Device) carefullyRecover(buffer []byte, first, last uint64) {
	if err := d.inner.WriteBlocks(buffer, first, last); err == nil {
		return
	}

	for pos := first; pos <= last; pos++ {
		blk := buffer[(pos-first)*d.blockSize : (pos-first+1)*d.blockSize]
		if err := d.inner.WriteBlocks(blk, pos, pos); err != nil {
			plog.Warn("safedev: failed to recover block", "pos", pos, "err", err)
		}
	}
}

// Recover writes back every snapshotted position at most veryLastPos,
// in maximal contiguous runs (by position value, in the order they
// were first recorded), falling back to per-block writes within a run
// that fails as a whole.
func (d *Device) Recover(veryLastPos uint64) {
	hasSeq := false
	var firstPos, lastPos uint64
	var start []byte

	for i, pos := range d.positions {
		if !hasSeq {
			if pos > veryLastPos {
				continue
			}
			firstPos, lastPos = pos, pos
			start = d.arena[uint64(i)*d.blockSize:]
			hasSeq = true
			continue
		}

		if pos <= veryLastPos && pos == lastPos+1 {
			lastPos++
			continue
		}

		d.carefullyRecover(start[:(lastPos-firstPos+1)*d.blockSize], firstPos, lastPos)

		hasSeq = pos <= veryLastPos
		if hasSeq {
			firstPos, lastPos = pos, pos
			start = d.arena[uint64(i)*d.blockSize:]
		}
	}

	if hasSeq {
		d.carefullyRecover(start[:(lastPos-firstPos+1)*d.blockSize], firstPos, lastPos)
	}
}

// Flush clears the snapshot log without writing anything back.
func (d *Device) Flush() {
	if len(d.positions) == 0 {
		return
	}
	d.positions = d.positions[:0]
	for i := range d.bitmap {
		d.bitmap[i] = 0
	}
}

// Close recovers every snapshotted block, flushes the log, and closes
// the inner device.
func (d *Device) Close() error {
	d.Recover(^uint64(0))
	d.Flush()
	return d.inner.Close()
}
