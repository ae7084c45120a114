package prober

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIlog2(t *testing.T) {
	cases := map[uint64]uint8{1: 0, 2: 1, 3: 1, 4: 2, 1023: 9, 1024: 10}
	for x, want := range cases {
		assert.Equal(t, want, ilog2(x), "ilog2(%d)", x)
	}
}

func TestClp2(t *testing.T) {
	cases := map[uint64]uint64{1: 1, 2: 2, 3: 4, 5: 8, 1024: 1024, 1025: 2048}
	for x, want := range cases {
		assert.Equal(t, want, clp2(x), "clp2(%d)", x)
	}
}

func TestCeilingLog2(t *testing.T) {
	cases := map[uint64]uint8{1: 0, 2: 1, 3: 2, 1024: 10, 1025: 11}
	for x, want := range cases {
		assert.Equal(t, want, ceilingLog2(x), "ceilingLog2(%d)", x)
	}
}
