package prober

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateNBisectBlocks_NotEnoughMeasurementsUsesThree(t *testing.T) {
	stats := &BisectStats{}
	assert.Equal(t, uint64(3), estimateNBisectBlocks(stats, 10))
}

// TestEstimateNBisectBlocks_AdaptsToResetCost exercises the formula
// grounded in original_source/libprobe.c's estimate_n_bisect_blocks:
// m <= log2(T_reset/(2*T_write) + 3), n = 2^m - 1. With a reset
// averaging 20x a single block write, the largest m satisfying the
// inequality is 3, giving n = 7.
func TestEstimateNBisectBlocks_AdaptsToResetCost(t *testing.T) {
	stats := &BisectStats{
		WriteCount:  3,
		WriteTimeUs: 3,
		ResetCount:  1,
		ResetTimeUs: 20,
	}
	assert.Equal(t, uint64(7), estimateNBisectBlocks(stats, 10))
}

func TestEstimateNBisectBlocks_CappedByMaxNBlockOrder(t *testing.T) {
	stats := &BisectStats{
		WriteCount:  3,
		WriteTimeUs: 3,
		ResetCount:  1,
		ResetTimeUs: 1_000_000,
	}
	assert.Equal(t, uint64((1<<4)-1), estimateNBisectBlocks(stats, 4))
}
