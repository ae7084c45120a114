package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flashprobe/f3probe/pkg/device"
)

func TestParamValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		real       uint64
		announced  uint64
		wrap       uint64
		blockOrder uint8
		want       bool
	}{
		{"good 2GiB", 1 << 31, 1 << 31, 31, 9, true},
		{"real > announced", 1 << 32, 1 << 31, 31, 9, false},
		{"wrap out of range", 1 << 31, 1 << 31, 64, 9, false},
		{"block order too small", 1 << 31, 1 << 31, 31, 8, false},
		{"block order too large", 1 << 31, 1 << 31, 31, 21, false},
		{"not multiple of block size", (1 << 31) - 1, 1 << 31, 31, 9, false},
		{"equal sizes exceed wrap cap", 1 << 31, 1 << 31, 29, 9, false},
		{"limbo ok", 1 << 31, 1 << 34, 34, 9, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := device.ParamValid(c.real, c.announced, c.wrap, c.blockOrder)
			assert.Equal(t, c.want, got, "ParamValid(%d,%d,%d,%d)", c.real, c.announced, c.wrap, c.blockOrder)
		})
	}
}

func TestParamToType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		real      uint64
		announced uint64
		wrap      uint64
		want      device.FakeType
	}{
		{"good", 1 << 31, 1 << 31, 31, device.Good},
		{"bad", 0, 1 << 31, 31, device.Bad},
		{"wraparound", 1 << 31, 1 << 34, 31, device.Wraparound},
		{"chain", 1 << 20, 1 << 34, 30, device.Chain},
		{"limbo", 1 << 31, 1 << 34, 34, device.Limbo},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := device.ParamToType(c.real, c.announced, c.wrap)
			assert.Equal(t, c.want, got, "ParamToType(%d,%d,%d)", c.real, c.announced, c.wrap)
		})
	}
}

func TestFakeType_String(t *testing.T) {
	t.Parallel()

	cases := map[device.FakeType]string{
		device.Good:       "good",
		device.Bad:        "bad",
		device.Limbo:      "limbo",
		device.Wraparound: "wraparound",
		device.Chain:      "chain",
	}
	for ft, want := range cases {
		assert.Equal(t, want, ft.String(), "FakeType(%d).String()", ft)
	}
}
