package prober_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashprobe/f3probe/pkg/device"
	"github.com/flashprobe/f3probe/pkg/device/filedev"
	"github.com/flashprobe/f3probe/pkg/device/safedev"
	"github.com/flashprobe/f3probe/pkg/prober"
)

func newEmulatedDevice(t *testing.T, opts filedev.Options) (*safedev.Device, func()) {
	t.Helper()
	opts.Filename = filepath.Join(t.TempDir(), "emu.img")
	fd, err := filedev.New(opts)
	require.NoError(t, err, "filedev.New")

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 1

	maxBlocks := prober.ProbeDeviceMaxBlocks(fd, cfg)
	sd, err := safedev.New(device.Device(fd), maxBlocks, false)
	require.NoError(t, err, "safedev.New")
	return sd, func() { _ = sd.Close() }
}

func withinOneBlock(t *testing.T, got, want, blockSize uint64) {
	t.Helper()
	diff := int64(got) - int64(want)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqualf(t, uint64(diff), blockSize, "RealSizeByte = %d, want within one block of %d", got, want)
}

// Scenario 1: a good 2 GiB drive.
func TestProbeDevice_GoodDrive(t *testing.T) {
	sd, cleanup := newEmulatedDevice(t, filedev.Options{
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 31,
		Wrap:              31,
		BlockOrder:        9,
	})
	defer cleanup()

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 1
	result, err := prober.ProbeDevice(sd, cfg)
	require.NoError(t, err)

	want := prober.Result{
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 31,
		Wrap:              result.Wrap,
		CacheSizeBlock:    0,
		NeedReset:         false,
		BlockOrder:        9,
		FakeType:          device.Good,
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("ProbeDevice result mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 2: a limbo drive — counterfeit but neither wraparound nor
// chain.
func TestProbeDevice_LimboDrive(t *testing.T) {
	sd, cleanup := newEmulatedDevice(t, filedev.Options{
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 34,
		Wrap:              34,
		BlockOrder:        9,
	})
	defer cleanup()

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 2
	result, err := prober.ProbeDevice(sd, cfg)
	require.NoError(t, err)

	withinOneBlock(t, result.RealSizeByte, 1<<31, device.BlockSize(9))
	assert.Equal(t, device.Limbo, result.FakeType)
}

// Scenario 3: a wraparound drive — writes past real capacity fold
// back onto real storage.
func TestProbeDevice_WraparoundDrive(t *testing.T) {
	sd, cleanup := newEmulatedDevice(t, filedev.Options{
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 34,
		Wrap:              31,
		BlockOrder:        9,
	})
	defer cleanup()

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 3
	result, err := prober.ProbeDevice(sd, cfg)
	require.NoError(t, err)

	assert.Equal(t, device.Wraparound, result.FakeType)
	withinOneBlock(t, result.RealSizeByte, 1<<31, device.BlockSize(9))
}

// Scenario 4: a cached limbo drive — the prober must detect a small
// non-zero device-side cache and that a reset is required.
func TestProbeDevice_CachedLimboDrive(t *testing.T) {
	sd, cleanup := newEmulatedDevice(t, filedev.Options{
		RealSizeByte:      1 << 31,
		AnnouncedSizeByte: 1 << 34,
		Wrap:              34,
		BlockOrder:        9,
		CacheEnabled:      true,
		CacheOrder:        4,
		StrictCache:       true,
	})
	defer cleanup()

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 4
	result, err := prober.ProbeDevice(sd, cfg)
	require.NoError(t, err)

	assert.Greater(t, result.CacheSizeBlock, uint64(0))
	assert.LessOrEqual(t, result.CacheSizeBlock, uint64(16))
	assert.True(t, result.NeedReset)
}

// Scenario 6 smoke run: ProbeDevice completes without error on a
// small good drive. Bisect does not run on a good drive, so this does
// not observe the per-pass sample count; the adaptation of that count
// to the reset/write cost ratio is checked in stats_test.go.
func TestProbeDevice_SmallGoodDriveCompletes(t *testing.T) {
	sd, cleanup := newEmulatedDevice(t, filedev.Options{
		RealSizeByte:      1 << 24,
		AnnouncedSizeByte: 1 << 24,
		Wrap:              24,
		BlockOrder:        9,
	})
	defer cleanup()

	cfg := prober.DefaultConfig()
	cfg.SampleSeed = 6
	_, err := prober.ProbeDevice(sd, cfg)
	require.NoError(t, err)
}
