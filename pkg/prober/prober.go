// Package prober implements the counterfeit flash-storage detection
// algorithm: adaptive bisection search for a device's true storage
// capacity, device-side cache detection, address-space wrap
// detection, and a probabilistic bad-block sweep, classified against
// the parameters the device itself announces.
//
// Grounded on original_source/libprobe.c's probe_device and its
// helpers (write_blocks, high_level_reset, bisect, find_cache_size,
// find_wrap, find_a_bad_block, probe_device_max_blocks).
package prober

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/flashprobe/f3probe/pkg/device"
	"github.com/flashprobe/f3probe/pkg/device/stamp"
)

// bigBlockSizeByte bounds how many stamped blocks write_blocks
// batches into a single underlying write call before flushing.
const bigBlockSizeByte = 1 << 20

// Result is the outcome of a single ProbeDevice run.
type Result struct {
	RealSizeByte      uint64
	AnnouncedSizeByte uint64
	Wrap              uint8
	CacheSizeBlock    uint64
	NeedReset         bool
	BlockOrder        uint8
	FakeType          device.FakeType
}

func retryOnce(f func() error) error {
	if err := f(); err != nil {
		return f()
	}
	return nil
}

func isTerminal(err error) bool {
	return errors.Is(err, device.ErrIO) || errors.Is(err, device.ErrDeviceGone)
}

// writeBlocks stamps every block in [firstPos, lastPos] with the
// offset/salt codec and writes them in batches capped at
// bigBlockSizeByte bytes, retrying each underlying write once.
func writeBlocks(dev device.Device, firstPos, lastPos, salt uint64) error {
	order := dev.BlockOrder()
	blockSize := device.BlockSize(order)
	blocksPerBatch := bigBlockSizeByte >> order
	if blocksPerBatch == 0 {
		blocksPerBatch = 1
	}

	buf := make([]byte, 0, bigBlockSizeByte)
	writePos := firstPos
	offset := firstPos << order

	flush := func(upto uint64) error {
		if len(buf) == 0 {
			return nil
		}
		b := buf
		wp := writePos
		err := retryOnce(func() error { return dev.WriteBlocks(b, wp, upto) })
		buf = buf[:0]
		writePos = upto + 1
		return err
	}

	var n uint64
	for pos := firstPos; pos <= lastPos; pos++ {
		block := make([]byte, blockSize)
		stamp.Fill(block, order, offset, salt)
		buf = append(buf, block...)
		offset += blockSize
		n++

		if n == uint64(blocksPerBatch) || pos == lastPos {
			if err := flush(pos); err != nil {
				return err
			}
			n = 0
		}
	}
	return nil
}

// highLevelReset evicts any on-device cache by writing
// cacheSizeBlock blocks starting at startPos, then optionally resets
// the device.
func highLevelReset(dev device.Device, startPos, cacheSizeBlock uint64, needReset bool, salt uint64) error {
	if cacheSizeBlock > 0 {
		if err := writeBlocks(dev, startPos, startPos+cacheSizeBlock-1, salt); err != nil {
			return err
		}
	}
	if needReset {
		return retryOnce(dev.Reset)
	}
	return nil
}

func isBlockGood(dev device.Device, pos, salt uint64) (bool, error) {
	order := dev.BlockOrder()
	buf := make([]byte, device.BlockSize(order))
	if err := retryOnce(func() error { return dev.ReadBlocks(buf, pos, pos) }); err != nil {
		return false, err
	}
	foundOffset, err := stamp.Validate(buf, order, salt)
	if err != nil {
		return false, nil
	}
	return foundOffset == pos<<order, nil
}

// writeBisectBlocks picks n evenly-spaced sample positions in
// (leftPos, rightPos) following a*idx+b, writing a single stamped
// block at each.
func writeBisectBlocks(dev device.Device, leftPos, rightPos, nBlocks, salt uint64) (a, b, maxIdx uint64, err error) {
	b = leftPos + 1
	a = round((float64(rightPos) - float64(b) - 1) / float64(nBlocks+1))
	if a == 0 {
		a = 1
	}
	maxIdx = (rightPos - b - 1) / a
	if maxIdx >= nBlocks {
		b += a
		maxIdx = nBlocks - 1
	}

	for pos := b; pos <= a*maxIdx+b; pos += a {
		if err := writeBlocks(dev, pos, pos, salt); err != nil {
			return 0, 0, 0, err
		}
	}
	return a, b, maxIdx, nil
}

func round(x float64) uint64 {
	if x < 0 {
		return 0
	}
	return uint64(x + 0.5)
}

// probeBisectBlocks binary-searches the sample positions written by
// writeBisectBlocks by reading them back: the rightmost good sample
// becomes the new leftPos, the leftmost bad sample the new rightPos.
func probeBisectBlocks(dev device.Device, leftPos, rightPos *uint64, salt, a, b, maxIdx uint64) error {
	leftIdx, rightIdx := int64(0), int64(maxIdx)
	for leftIdx <= rightIdx {
		idx := (leftIdx + rightIdx) / 2
		pos := a*uint64(idx) + b
		good, err := isBlockGood(dev, pos, salt)
		if err != nil {
			return err
		}
		if good {
			leftIdx = idx + 1
			*leftPos = pos
		} else {
			rightIdx = idx - 1
			*rightPos = pos
		}
	}
	return nil
}

// bisect narrows the gap between a known-good leftPos and a
// known-bad rightPos down to a single block, writing sample blocks
// and timing each write/reset pass to adapt the sample count.
func bisect(dev device.Device, stats *BisectStats, cfg Config, leftPos uint64, rightPos *uint64, resetPos, cacheSizeBlock uint64, needReset bool, salt uint64) error {
	gap := *rightPos - leftPos
	for gap >= 2 {
		nBlocks := estimateNBisectBlocks(stats, cfg.MaxNBlockOrder)

		t0 := time.Now()
		a, b, maxIdx, err := writeBisectBlocks(dev, leftPos, *rightPos, nBlocks, salt)
		if err != nil {
			return err
		}
		stats.WriteCount += int(maxIdx + 1)
		stats.WriteTimeUs += uint64(time.Since(t0).Microseconds())

		t0 = time.Now()
		if err := highLevelReset(dev, resetPos, cacheSizeBlock, needReset, salt); err != nil {
			return err
		}
		stats.ResetCount++
		stats.ResetTimeUs += uint64(time.Since(t0).Microseconds())

		if err := probeBisectBlocks(dev, &leftPos, rightPos, salt, a, b, maxIdx); err != nil {
			return err
		}
		gap = *rightPos - leftPos
	}
	return nil
}

func countGoodBlocks(dev device.Device, firstPos, lastPos, salt uint64) (uint64, error) {
	order := dev.BlockOrder()
	blockSize := device.BlockSize(order)
	step := uint64(bigBlockSizeByte>>order) - 1

	var count uint64
	expectedOffset := firstPos << order
	startPos := firstPos
	for startPos <= lastPos {
		nextPos := startPos + step
		if nextPos > lastPos {
			nextPos = lastPos
		}
		buf := make([]byte, (nextPos-startPos+1)*blockSize)
		if err := retryOnce(func() error { return dev.ReadBlocks(buf, startPos, nextPos) }); err != nil {
			return 0, err
		}

		off := expectedOffset
		for i := 0; i < len(buf); i += int(blockSize) {
			found, err := stamp.Validate(buf[i:i+int(blockSize)], order, salt)
			if err == nil && found == off {
				count++
			}
			off += blockSize
		}
		expectedOffset += (nextPos - startPos + 1) * blockSize
		startPos = nextPos + 1
	}
	return count, nil
}

// assessResetEffect counts good blocks in [firstPos, lastPos] before
// and after a reset to determine whether the device has a finite
// write cache, and if so, its size.
func assessResetEffect(dev device.Device, firstPos, lastPos, salt uint64) (cacheSizeBlock uint64, needReset, done bool, err error) {
	writeTarget := lastPos + 1 - firstPos

	before, err := countGoodBlocks(dev, firstPos, lastPos, salt)
	if err != nil {
		return 0, false, false, err
	}
	if err := retryOnce(dev.Reset); err != nil {
		return 0, false, false, err
	}
	after, err := countGoodBlocks(dev, firstPos, lastPos, salt)
	if err != nil {
		return 0, false, false, err
	}

	if after < writeTarget {
		return after, after < before, true, nil
	}
	return 0, false, false, nil
}

func uint64RandRange(rng *rand.Rand, a, b uint64) uint64 {
	return a + rng.Uint64()%(b-a+1)
}

// probabilisticTest samples up to cfg.NBlockSamples positions in
// [firstPos, lastPos], returning true as soon as one is found bad.
func probabilisticTest(dev device.Device, cfg Config, rng *rand.Rand, firstPos, lastPos, salt uint64) (foundBad bool, err error) {
	if firstPos > lastPos {
		return false, nil
	}

	gap := lastPos - firstPos + 1
	isLinear := gap <= uint64(cfg.NBlockSamples)
	n := cfg.NBlockSamples
	if isLinear {
		n = int(gap)
	}

	for i := 0; i < n; i++ {
		samplePos := firstPos + uint64(i)
		if !isLinear {
			samplePos = uint64RandRange(rng, firstPos, lastPos)
		}
		good, err := isBlockGood(dev, samplePos, salt)
		if err != nil {
			return false, err
		}
		if !good {
			return true, nil
		}
	}
	return false, nil
}

// findABadBlock samples the gap (leftPos, rightPos), writes stamps at
// the samples, resets, and reads them back in ascending order so the
// first failure found is the leftmost bad block in the sample.
func findABadBlock(dev device.Device, cfg Config, rng *rand.Rand, leftPos uint64, rightPos *uint64, resetPos, cacheSizeBlock uint64, needReset bool, salt uint64) (foundBad bool, err error) {
	if *rightPos <= leftPos+1 {
		return false, nil
	}

	gap := *rightPos - leftPos - 1
	var samples []uint64
	if gap <= uint64(cfg.NBlockSamples) {
		for i := uint64(0); i < gap; i++ {
			samples = append(samples, leftPos+1+i)
		}
		if err := writeBlocks(dev, leftPos+1, *rightPos-1, salt); err != nil {
			return false, err
		}
	} else {
		seen := make(map[uint64]bool)
		for len(samples) < cfg.NBlockSamples {
			pos := uint64RandRange(rng, leftPos+1, *rightPos-1)
			if seen[pos] {
				continue
			}
			seen[pos] = true
			samples = append(samples, pos)
		}
		sortUint64s(samples)

		prev := leftPos
		for _, pos := range samples {
			if pos == prev {
				continue
			}
			prev = pos
			if err := writeBlocks(dev, pos, pos, salt); err != nil {
				return false, err
			}
		}
	}

	if err := highLevelReset(dev, resetPos, cacheSizeBlock, needReset, salt); err != nil {
		return false, err
	}

	prev := leftPos
	for _, pos := range samples {
		if pos == prev {
			continue
		}
		prev = pos
		good, err := isBlockGood(dev, pos, salt)
		if err != nil {
			return false, err
		}
		if !good {
			*rightPos = pos
			return true, nil
		}
	}
	return false, nil
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// findCacheSize probes progressively larger suffixes of the device,
// doubling the write target each round, to find whether the device
// has a finite write-back cache and (if so) its size.
func findCacheSize(dev device.Device, cfg Config, rng *rand.Rand, leftPos uint64, rightPos *uint64, salt uint64) (cacheSizeBlock uint64, needReset, goodDrive bool, err error) {
	order := dev.BlockOrder()
	writeTarget := cfg.MinCacheSizeByte >> order
	finalWriteTarget := cfg.MaxCacheSizeByte >> order

	lastPos := *rightPos - 1
	endPos := lastPos
	var firstPos uint64

	switch {
	case *rightPos > leftPos+writeTarget:
		firstPos = *rightPos - writeTarget
	case *rightPos > leftPos+1:
		firstPos = leftPos + 1
	default:
		*rightPos = endPos + 1
		return 0, false, true, nil
	}

	if err := writeBlocks(dev, firstPos, lastPos, salt); err != nil {
		return 0, false, false, err
	}

	cacheSizeBlock, needReset, done, err := assessResetEffect(dev, firstPos, endPos, salt)
	if err != nil {
		return 0, false, false, err
	}
	if done {
		*rightPos = firstPos
		return cacheSizeBlock, needReset, false, nil
	}

	for writeTarget < finalWriteTarget {
		writeTarget <<= 1
		lastPos = firstPos - 1
		switch {
		case firstPos > leftPos+writeTarget:
			firstPos -= writeTarget
		case firstPos > leftPos+1:
			firstPos = leftPos + 1
		default:
			goto good
		}

		if err := writeBlocks(dev, firstPos, lastPos, salt); err != nil {
			return 0, false, false, err
		}

		foundBad, err := probabilisticTest(dev, cfg, rng, firstPos, endPos, salt)
		if err != nil {
			return 0, false, false, err
		}
		if foundBad {
			cacheSizeBlock, needReset, done, err = assessResetEffect(dev, firstPos, endPos, salt)
			if err != nil {
				return 0, false, false, err
			}
			*rightPos = firstPos
			return cacheSizeBlock, needReset, false, nil
		}
	}

good:
	*rightPos = endPos + 1
	return 0, false, true, nil
}

// findWrap primes the search with a known-good block just past
// leftPos, then doubles its search offset until it reads back a
// stamp claiming the primer's own offset — the address space wraps
// at that doubling point.
func findWrap(dev device.Device, leftPos uint64, rightPos *uint64, resetPos, cacheSizeBlock uint64, needReset bool, salt uint64) error {
	pos := leftPos + 1
	if pos >= *rightPos {
		return nil
	}

	if err := writeBlocks(dev, pos, pos, salt); err != nil {
		return err
	}
	if err := highLevelReset(dev, resetPos, cacheSizeBlock, needReset, salt); err != nil {
		return err
	}
	good, err := isBlockGood(dev, pos, salt)
	if err != nil {
		return err
	}
	if !good {
		return &device.OpError{Op: "find_wrap", Err: device.ErrIO}
	}

	order := dev.BlockOrder()
	offset := pos << order
	highBit := clp2(pos)
	if highBit <= pos {
		highBit <<= 1
	}
	pos += highBit

	for pos < *rightPos {
		buf := make([]byte, device.BlockSize(order))
		if err := retryOnce(func() error { return dev.ReadBlocks(buf, pos, pos) }); err != nil {
			return err
		}
		if found, verr := stamp.Validate(buf, order, salt); verr == nil && found == offset {
			*rightPos = highBit
			return nil
		}

		highBit <<= 1
		pos = highBit + leftPos + 1
	}
	return nil
}

// ProbeDeviceMaxBlocks returns a generous upper bound on the number
// of blocks ProbeDevice will touch, for sizing a safe wrapper before
// it wraps dev.
func ProbeDeviceMaxBlocks(dev device.Device, cfg Config) uint64 {
	order := dev.BlockOrder()
	numBlocks := dev.SizeByte() >> order
	n := uint64(ceilingLog2(numBlocks))

	return (cfg.MaxCacheSizeByte >> (order - 1)) +
		1 +
		cfg.MaxBlocksFudge*(((n<<cfg.MaxNBlockOrder)/uint64(cfg.MaxNBlockOrder))+uint64(cfg.NBlockSamples))
}

// ProbeDevice runs the full detection algorithm against dev, which
// must already be wrapped by a safe device sized per
// ProbeDeviceMaxBlocks. It never returns a non-nil error for a
// misbehaving drive: an unrecoverable I/O failure produces a
// degraded Result (real_size_byte = 0) rather than aborting, per the
// original's "never crash on a bad drive" rule.
func ProbeDevice(dev device.Device, cfg Config) (Result, error) {
	devSizeByte := dev.SizeByte()
	order := dev.BlockOrder()

	leftPos := (uint64(1) << (20 - order)) - 1
	rightPos := devSizeByte >> order
	midDrivePos := clp2(rightPos / 2)

	seed := cfg.SampleSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	salt := rng.Uint64()

	var cacheSizeBlock uint64
	var needReset bool

	bad := func(err error) (Result, error) {
		if isTerminal(err) {
			return Result{
				AnnouncedSizeByte: devSizeByte,
				Wrap:              ceilingLog2(devSizeByte),
				CacheSizeBlock:    cacheSizeBlock,
				NeedReset:         needReset,
				BlockOrder:        order,
				FakeType:          device.Bad,
			}, nil
		}
		return Result{}, err
	}

	var goodDrive bool
	var err error
	cacheSizeBlock, needReset, goodDrive, err = findCacheSize(dev, cfg, rng, midDrivePos-1, &rightPos, salt)
	if err != nil {
		return bad(err)
	}
	resetPos := rightPos

	if err := findWrap(dev, leftPos, &rightPos, resetPos, cacheSizeBlock, needReset, salt); err != nil {
		return bad(err)
	}
	wrap := ceilingLog2(rightPos << order)

	var stats BisectStats
	if !goodDrive {
		if midDrivePos < rightPos {
			rightPos = midDrivePos
		}
		if err := bisect(dev, &stats, cfg, leftPos, &rightPos, resetPos, cacheSizeBlock, needReset, salt); err != nil {
			return bad(err)
		}
	}

	for {
		foundBad, err := findABadBlock(dev, cfg, rng, leftPos, &rightPos, resetPos, cacheSizeBlock, needReset, salt)
		if err != nil {
			return bad(err)
		}
		if !foundBad {
			break
		}
		if err := bisect(dev, &stats, cfg, leftPos, &rightPos, resetPos, cacheSizeBlock, needReset, salt); err != nil {
			return bad(err)
		}
	}

	realSizeByte := rightPos << order
	if rightPos == leftPos+1 {
		realSizeByte = 0
	}

	result := Result{
		RealSizeByte:      realSizeByte,
		AnnouncedSizeByte: devSizeByte,
		Wrap:              wrap,
		CacheSizeBlock:    cacheSizeBlock,
		NeedReset:         needReset,
		BlockOrder:        order,
	}
	if device.ParamValid(result.RealSizeByte, result.AnnouncedSizeByte, uint64(result.Wrap), order) {
		result.FakeType = device.ParamToType(result.RealSizeByte, result.AnnouncedSizeByte, uint64(result.Wrap))
	}
	return result, nil
}
