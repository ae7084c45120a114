package prober

import "math"

// BisectStats accumulates rolling write/reset timing measurements so
// bisect passes can adapt their sample count to the true cost ratio
// between a reset and a write. Grounded on
// original_source/libprobe.c's struct bisect_stats /
// estimate_n_bisect_blocks.
type BisectStats struct {
	WriteCount  int
	ResetCount  int
	WriteTimeUs uint64
	ResetTimeUs uint64
}

// estimateNBisectBlocks returns the number of blocks to write per
// bisection pass: the largest (2^m - 1) for which writing that many
// blocks is no more expensive than doing another single-block pass,
// capped at 2^maxNBlockOrder - 1.
func estimateNBisectBlocks(stats *BisectStats, maxNBlockOrder uint8) uint64 {
	if stats.WriteCount < 3 || stats.ResetCount < 1 {
		return (1 << 2) - 1
	}

	twUs := float64(stats.WriteTimeUs) / float64(stats.WriteCount)
	trUs := float64(stats.ResetTimeUs) / float64(stats.ResetCount)
	t2wUs := 1.0
	if twUs > 0 {
		t2wUs = 2 * twUs
	}

	nBlockOrder := ilog2(uint64(math.Round(trUs/t2wUs + 3)))
	if nBlockOrder > maxNBlockOrder {
		nBlockOrder = maxNBlockOrder
	}
	return (uint64(1) << nBlockOrder) - 1
}
