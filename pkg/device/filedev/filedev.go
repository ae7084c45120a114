// Package filedev implements the file-backed emulator device: the
// ground truth used to exercise the prober without real hardware. It
// simulates good, bad, limbo, wraparound, and chain devices over a
// sparse backing file plus an optional in-memory volatile cache.
package filedev

import (
	"fmt"
	"os"

	"github.com/flashprobe/f3probe/pkg/device"
)

// defaultBlockOrder is used when the caller does not specify one. The
// original emulator queries the backing filesystem's block size via
// fstat when block_order is unspecified; Go has no portable
// equivalent in the standard library, and this package intentionally
// stays syscall-free (that concern belongs to pkg/device/rawdev), so
// callers that care about a specific block size should pass one.
const defaultBlockOrder = 12

// Options configures a new File device.
type Options struct {
	// Filename is the backing file's path. Creation is exclusive: it
	// fails if the path already exists.
	Filename string

	// RealSizeByte is the ground-truth usable capacity.
	RealSizeByte uint64

	// AnnouncedSizeByte is the capacity the device claims to have.
	AnnouncedSizeByte uint64

	// Wrap is the bit width at which the address space folds back on
	// itself: effective offsets are masked with (1<<Wrap)-1.
	Wrap uint64

	// BlockOrder is log2 of the block size in bytes. Zero selects
	// defaultBlockOrder.
	BlockOrder uint8

	// CacheOrder, when CacheEnabled is true, sizes the volatile cache
	// at 1<<CacheOrder blocks. Ignored otherwise.
	CacheOrder   uint8
	CacheEnabled bool

	// StrictCache requires a cached slot's tag to match the requested
	// block position; otherwise any occupant of the slot is returned
	// regardless of which position last wrote it.
	StrictCache bool

	// KeepFile controls whether the backing file survives Close. When
	// false the file is unlinked immediately after creation, the way
	// the original emulator does, so a crash mid-test never leaves
	// the scratch file behind.
	KeepFile bool
}

// File is the file-backed emulator device.
type File struct {
	f *os.File

	filename          string
	realSizeByte      uint64
	announcedSizeByte uint64
	addressMask       uint64
	blockOrder        uint8

	cacheMask    uint64
	cacheEntries []uint64 // nil when cache disabled or non-strict
	cacheBlocks  []byte   // nil when cache disabled
	hasCache     bool
}

var _ device.Device = (*File)(nil)

// New creates a new file-backed emulator device per opts.
func New(opts Options) (*File, error) {
	blockOrder := opts.BlockOrder
	if blockOrder == 0 {
		blockOrder = defaultBlockOrder
	}

	if !device.ParamValid(opts.RealSizeByte, opts.AnnouncedSizeByte, opts.Wrap, blockOrder) {
		return nil, &device.OpError{Op: "create_file_device", Err: fmt.Errorf("%w: invalid (real=%d, announced=%d, wrap=%d, order=%d)",
			device.ErrInvalidArgument, opts.RealSizeByte, opts.AnnouncedSizeByte, opts.Wrap, blockOrder)}
	}

	f, err := os.OpenFile(opts.Filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, &device.OpError{Op: "create_file_device", Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	if !opts.KeepFile {
		// Unlinking now means a crash mid-probe never leaves scratch
		// data behind; the already-open descriptor keeps working on
		// POSIX filesystems.
		if rmErr := os.Remove(opts.Filename); rmErr != nil {
			_ = f.Close()
			return nil, &device.OpError{Op: "create_file_device", Err: fmt.Errorf("%w: unlink: %v", device.ErrIO, rmErr)}
		}
	}

	fd := &File{
		f:                 f,
		filename:          opts.Filename,
		realSizeByte:      opts.RealSizeByte,
		announcedSizeByte: opts.AnnouncedSizeByte,
		addressMask:       (uint64(1) << opts.Wrap) - 1,
		blockOrder:        blockOrder,
	}

	if opts.CacheEnabled {
		fd.hasCache = true
		fd.cacheMask = (uint64(1) << opts.CacheOrder) - 1
		fd.cacheBlocks = make([]byte, (uint64(1)<<opts.CacheOrder)<<blockOrder)
		if opts.StrictCache {
			fd.cacheEntries = make([]uint64, uint64(1)<<opts.CacheOrder)
		}
	}

	return fd, nil
}

func (fd *File) SizeByte() uint64   { return fd.announcedSizeByte }
func (fd *File) BlockOrder() uint8  { return fd.blockOrder }
func (fd *File) Filename() string   { return fd.filename }

func (fd *File) blockSize() uint64 { return device.BlockSize(fd.blockOrder) }

func (fd *File) ReadBlocks(buf []byte, firstPos, lastPos uint64) error {
	if err := device.CheckRange(fd.announcedSizeByte, fd.blockOrder, firstPos, lastPos); err != nil {
		return err
	}
	blockSize := fd.blockSize()
	if uint64(len(buf)) != (lastPos-firstPos+1)*blockSize {
		return &device.OpError{Op: "read_blocks", Err: fmt.Errorf("%w: buffer length mismatch", device.ErrInvalidArgument)}
	}

	for pos := firstPos; pos <= lastPos; pos++ {
		dst := buf[(pos-firstPos)*blockSize : (pos-firstPos+1)*blockSize]
		if err := fd.readBlock(dst, pos); err != nil {
			return err
		}
	}
	return nil
}

func (fd *File) readBlock(dst []byte, pos uint64) error {
	offset := (pos << fd.blockOrder) & fd.addressMask
	if offset >= fd.realSizeByte {
		if !fd.hasCache {
			zero(dst)
			return nil
		}
		cachePos := pos & fd.cacheMask
		if fd.cacheEntries != nil && fd.cacheEntries[cachePos] != pos {
			zero(dst)
			return nil
		}
		blockSize := fd.blockSize()
		copy(dst, fd.cacheBlocks[cachePos*blockSize:(cachePos+1)*blockSize])
		return nil
	}

	n, err := fd.f.ReadAt(dst, int64(offset))
	if err != nil && n == 0 {
		// Reading beyond the end of the sparse file: treat as zeros,
		// matching the original's end-of-file handling.
		zero(dst)
		return nil
	}
	if err != nil && n < len(dst) {
		return &device.OpError{Op: "read_blocks", Pos: fmt.Sprintf("pos=%d", pos), Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	return nil
}

func (fd *File) WriteBlocks(buf []byte, firstPos, lastPos uint64) error {
	if err := device.CheckRange(fd.announcedSizeByte, fd.blockOrder, firstPos, lastPos); err != nil {
		return err
	}
	blockSize := fd.blockSize()
	if uint64(len(buf)) != (lastPos-firstPos+1)*blockSize {
		return &device.OpError{Op: "write_blocks", Err: fmt.Errorf("%w: buffer length mismatch", device.ErrInvalidArgument)}
	}

	for pos := firstPos; pos <= lastPos; pos++ {
		src := buf[(pos-firstPos)*blockSize : (pos-firstPos+1)*blockSize]
		if err := fd.writeBlock(src, pos); err != nil {
			return err
		}
	}
	return nil
}

func (fd *File) writeBlock(src []byte, pos uint64) error {
	offset := (pos << fd.blockOrder) & fd.addressMask
	if offset >= fd.realSizeByte {
		if !fd.hasCache {
			return nil
		}
		cachePos := pos & fd.cacheMask
		blockSize := fd.blockSize()
		copy(fd.cacheBlocks[cachePos*blockSize:(cachePos+1)*blockSize], src)
		if fd.cacheEntries != nil {
			fd.cacheEntries[cachePos] = pos
		}
		return nil
	}

	if _, err := fd.f.WriteAt(src, int64(offset)); err != nil {
		return &device.OpError{Op: "write_blocks", Pos: fmt.Sprintf("pos=%d", pos), Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	return nil
}

// Reset is a no-op for the emulator: the cache and the real region
// both survive a reset, matching spec.md §4.3.
func (fd *File) Reset() error { return nil }

func (fd *File) Close() error {
	if err := fd.f.Close(); err != nil {
		return &device.OpError{Op: "close", Err: fmt.Errorf("%w: %v", device.ErrIO, err)}
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
