// Package stamp implements the block stamp codec: a deterministic
// pseudo-random fill that binds a byte offset to every block so that,
// on read-back, a block can be classified good, overwritten, or bad
// without any external metadata beyond a per-run salt.
package stamp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ToleranceChangedWords is the number of mismatching derived words the
// brew-style tolerant validator permits before calling a block Bad
// rather than Changed. The prober itself never uses this tolerance —
// only the read-back utility's ValidateTolerant does. Left as-is per
// the upstream design notes; not used by the probing core.
const ToleranceChangedWords = 2

// ErrBadBlock is returned by Validate when a derived word does not
// match the expected pseudo-random sequence.
var ErrBadBlock = errors.New("stamp: bad block")

// wordSize is the size in bytes of one stamp word (the first holds
// the offset; the rest hold PRNG output).
const wordSize = 8

// multiplier and increment implement the linear-congruential step
// r <- r*multiplier+increment specified by the design: cheap,
// reproducible bit-for-bit across platforms, non-cryptographic by
// design.
const (
	multiplier uint64 = 4294967311
	increment  uint64 = 17
)

func next(r uint64) uint64 {
	return r*multiplier + increment
}

// numWords returns how many 8-byte words fit in a block of the given
// order. blockOrder must be in [9,20] so this is always >= 1<<6.
func numWords(blockOrder uint8) int {
	return 1 << (blockOrder - 3)
}

// Fill writes a stamp for the block starting at byte offset into buf,
// which must be exactly 1<<blockOrder bytes. The first word holds
// offset verbatim (no salt — the offset is knowable by the device
// under test); every subsequent word holds the next term of the
// sequence seeded by offset XOR salt, stored in native byte order
// since this is not a wire format.
func Fill(buf []byte, blockOrder uint8, offset, salt uint64) {
	n := numWords(blockOrder)
	if len(buf) != n*wordSize {
		panic(fmt.Sprintf("stamp: buffer length %d does not match block order %d", len(buf), blockOrder))
	}

	binary.NativeEndian.PutUint64(buf[0:wordSize], offset)

	r := offset ^ salt
	for i := 1; i < n; i++ {
		r = next(r)
		binary.NativeEndian.PutUint64(buf[i*wordSize:(i+1)*wordSize], r)
	}
}

// Validate recomputes the expected sequence from the in-block offset
// and salt, comparing every derived word. It returns the in-block
// offset and a nil error if every word matches, or a wrapped
// ErrBadBlock on the first mismatch.
func Validate(buf []byte, blockOrder uint8, salt uint64) (foundOffset uint64, err error) {
	n := numWords(blockOrder)
	if len(buf) != n*wordSize {
		panic(fmt.Sprintf("stamp: buffer length %d does not match block order %d", len(buf), blockOrder))
	}

	foundOffset = binary.NativeEndian.Uint64(buf[0:wordSize])
	r := foundOffset ^ salt
	for i := 1; i < n; i++ {
		r = next(r)
		got := binary.NativeEndian.Uint64(buf[i*wordSize : (i+1)*wordSize])
		if got != r {
			return 0, fmt.Errorf("stamp: word %d mismatch: %w", i, ErrBadBlock)
		}
	}
	return foundOffset, nil
}

// ValidateTolerant is the brew-style validator: it permits up to
// ToleranceChangedWords mismatching derived words while the in-block
// offset still matches expectedOffset, reporting that as Changed
// rather than Bad. The prober does not use this form (spec.md §8 uses
// only the strict three-state classification); it exists for the
// read-back utility this core does not otherwise implement.
type Classification int

const (
	ClassGood Classification = iota
	ClassChanged
	ClassBad
)

func ValidateTolerant(buf []byte, blockOrder uint8, expectedOffset, salt uint64) Classification {
	n := numWords(blockOrder)
	if len(buf) != n*wordSize {
		panic(fmt.Sprintf("stamp: buffer length %d does not match block order %d", len(buf), blockOrder))
	}

	foundOffset := binary.NativeEndian.Uint64(buf[0:wordSize])
	if foundOffset != expectedOffset {
		return ClassBad
	}

	r := foundOffset ^ salt
	mismatches := 0
	for i := 1; i < n; i++ {
		r = next(r)
		got := binary.NativeEndian.Uint64(buf[i*wordSize : (i+1)*wordSize])
		if got != r {
			mismatches++
			if mismatches > ToleranceChangedWords {
				return ClassBad
			}
		}
	}
	if mismatches == 0 {
		return ClassGood
	}
	return ClassChanged
}
