package filedev_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashprobe/f3probe/pkg/device"
	"github.com/flashprobe/f3probe/pkg/device/filedev"
)

func newTestDevice(t *testing.T, opts filedev.Options) *filedev.File {
	t.Helper()
	if opts.Filename == "" {
		opts.Filename = filepath.Join(t.TempDir(), "emu.img")
	}
	opts.KeepFile = true // tests read the file back via the same handle only
	fd, err := filedev.New(opts)
	require.NoError(t, err, "filedev.New")
	t.Cleanup(func() { _ = fd.Close() })
	return fd
}

func TestFile_GoodDriveRoundTrip(t *testing.T) {
	t.Parallel()

	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 20,
		AnnouncedSizeByte: 1 << 20,
		Wrap:              20,
		BlockOrder:        9,
	})

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, fd.WriteBlocks(buf, 10, 10))

	got := make([]byte, 512)
	require.NoError(t, fd.ReadBlocks(got, 10, 10))
	assert.Equal(t, buf, got)
}

func TestFile_UnwrittenBlocksReadZero(t *testing.T) {
	t.Parallel()

	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 20,
		AnnouncedSizeByte: 1 << 20,
		Wrap:              20,
		BlockOrder:        9,
	})

	got := make([]byte, 512)
	for i := range got {
		got[i] = 0xff
	}
	require.NoError(t, fd.ReadBlocks(got, 5, 5))
	assert.Equal(t, make([]byte, 512), got)
}

func TestFile_WraparoundWritesFoldBack(t *testing.T) {
	t.Parallel()

	// real == 2^19, announced == 2^20, wrap == 19: writes past 2^19
	// fold back onto the real region.
	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 19,
		AnnouncedSizeByte: 1 << 20,
		Wrap:              19,
		BlockOrder:        9,
	})

	pattern := make([]byte, 512)
	for i := range pattern {
		pattern[i] = 0x5a
	}
	// Block position (1<<19)/512 writes at physical offset
	// ((1<<19)<<0) & ((1<<19)-1) == 0, i.e. block position 0.
	highPos := uint64(1<<19) / 512
	require.NoError(t, fd.WriteBlocks(pattern, highPos, highPos))

	got := make([]byte, 512)
	require.NoError(t, fd.ReadBlocks(got, 0, 0))
	assert.Equal(t, pattern, got, "wraparound")
}

func TestFile_ChainCache_NonStrictReturnsAnyOccupant(t *testing.T) {
	t.Parallel()

	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 19,
		AnnouncedSizeByte: 1 << 21,
		Wrap:              20,
		BlockOrder:        9,
		CacheEnabled:      true,
		CacheOrder:        2, // 4-block cache
		StrictCache:       false,
	})

	beyondRealPos := uint64(1 << 10) // first block beyond the real region
	pattern := make([]byte, 512)
	pattern[0] = 0x11
	require.NoError(t, fd.WriteBlocks(pattern, beyondRealPos, beyondRealPos))

	// A different position that aliases to the same cache slot reads
	// back the same content in non-strict mode.
	aliasPos := beyondRealPos + 4 // cacheMask == 3, so this aliases
	got := make([]byte, 512)
	require.NoError(t, fd.ReadBlocks(got, aliasPos, aliasPos))
	assert.Equal(t, byte(0x11), got[0], "non-strict cache")
}

func TestFile_ChainCache_StrictRejectsAliasedOccupant(t *testing.T) {
	t.Parallel()

	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 19,
		AnnouncedSizeByte: 1 << 21,
		Wrap:              20,
		BlockOrder:        9,
		CacheEnabled:      true,
		CacheOrder:        2,
		StrictCache:       true,
	})

	beyondRealPos := uint64(1 << 10)
	pattern := make([]byte, 512)
	pattern[0] = 0x11
	require.NoError(t, fd.WriteBlocks(pattern, beyondRealPos, beyondRealPos))

	aliasPos := beyondRealPos + 4
	got := make([]byte, 512)
	for i := range got {
		got[i] = 0xaa
	}
	require.NoError(t, fd.ReadBlocks(got, aliasPos, aliasPos))
	assert.Equal(t, byte(0), got[0], "strict cache: tag mismatch must read zeros")
}

func TestFile_ResetIsNoOp(t *testing.T) {
	t.Parallel()

	fd := newTestDevice(t, filedev.Options{
		RealSizeByte:      1 << 19,
		AnnouncedSizeByte: 1 << 21,
		Wrap:              20,
		BlockOrder:        9,
		CacheEnabled:      true,
		CacheOrder:        2,
	})

	cachedPos := uint64(1 << 10) // beyond the real region, lands in cache
	pattern := make([]byte, 512)
	pattern[0] = 0x42
	require.NoError(t, fd.WriteBlocks(pattern, cachedPos, cachedPos))

	require.NoError(t, fd.Reset())

	got := make([]byte, 512)
	require.NoError(t, fd.ReadBlocks(got, cachedPos, cachedPos))
	assert.Equal(t, byte(0x42), got[0], "reset should not affect cache content")
}

func TestFile_InvalidParamsRejected(t *testing.T) {
	t.Parallel()

	_, err := filedev.New(filedev.Options{
		Filename:          filepath.Join(t.TempDir(), "invalid.img"),
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 30, // real > announced: invalid
		Wrap:              30,
		BlockOrder:        9,
	})
	require.ErrorIs(t, err, device.ErrInvalidArgument)
}
