package perfdev_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashprobe/f3probe/pkg/device"
	"github.com/flashprobe/f3probe/pkg/device/filedev"
	"github.com/flashprobe/f3probe/pkg/device/perfdev"
)

func newInner(t *testing.T) *filedev.File {
	t.Helper()
	fd, err := filedev.New(filedev.Options{
		Filename:          filepath.Join(t.TempDir(), "emu.img"),
		RealSizeByte:      1 << 20,
		AnnouncedSizeByte: 1 << 20,
		Wrap:              20,
		BlockOrder:        9,
		KeepFile:          true,
	})
	require.NoError(t, err, "filedev.New")
	t.Cleanup(func() { _ = fd.Close() })
	return fd
}

func TestDevice_CountersMonotonicallyIncrease(t *testing.T) {
	t.Parallel()

	pd := perfdev.Wrap(newInner(t))

	buf := make([]byte, 512*3)
	prev := pd.Stats()

	require.NoError(t, pd.WriteBlocks(buf, 0, 2))
	after := pd.Stats()
	assert.Equal(t, prev.WriteCount+3, after.WriteCount)
	assert.GreaterOrEqual(t, after.WriteTimeUs, prev.WriteTimeUs)
	prev = after

	require.NoError(t, pd.ReadBlocks(buf, 0, 2))
	after = pd.Stats()
	assert.Equal(t, prev.ReadCount+3, after.ReadCount)
	prev = after

	require.NoError(t, pd.Reset())
	after = pd.Stats()
	assert.Equal(t, prev.ResetCount+1, after.ResetCount)
}

func TestDevice_DetachAndFreeReturnsUsableInner(t *testing.T) {
	t.Parallel()

	inner := newInner(t)
	pd := perfdev.Wrap(inner)

	detached := pd.DetachAndFree()
	assert.Equal(t, device.Device(inner), detached, "DetachAndFree did not return the original inner device")

	buf := make([]byte, 512)
	assert.NoError(t, detached.ReadBlocks(buf, 0, 0))
}
