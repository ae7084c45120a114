package stamp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashprobe/f3probe/pkg/device/stamp"
)

func TestFillValidate_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		blockOrder uint8
		offset     uint64
		salt       uint64
	}{
		{9, 0, 0},
		{9, 512, 0xdeadbeef},
		{12, 1 << 20, 1},
		{20, (1 << 30) - (1 << 20), 0xffffffffffffffff},
	}

	for _, c := range cases {
		buf := make([]byte, 1<<c.blockOrder)
		stamp.Fill(buf, c.blockOrder, c.offset, c.salt)

		got, err := stamp.Validate(buf, c.blockOrder, c.salt)
		require.NoError(t, err, "Validate(order=%d, offset=%d, salt=%d)", c.blockOrder, c.offset, c.salt)
		assert.Equal(t, c.offset, got)
	}
}

func TestValidate_WrongSaltIsBad(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 1<<9)
	stamp.Fill(buf, 9, 4096, 42)

	_, err := stamp.Validate(buf, 9, 43)
	require.ErrorIs(t, err, stamp.ErrBadBlock)
}

func TestValidate_BitFlipIsBad(t *testing.T) {
	t.Parallel()

	for order := uint8(9); order <= 12; order++ {
		buf := make([]byte, 1<<order)
		stamp.Fill(buf, order, 8192, 7)

		n := len(buf)
		for _, byteIdx := range []int{8, n / 2, n - 1} {
			flipped := make([]byte, n)
			copy(flipped, buf)
			flipped[byteIdx] ^= 0x01

			_, err := stamp.Validate(flipped, order, 7)
			require.ErrorIsf(t, err, stamp.ErrBadBlock, "order=%d byte=%d: Validate did not detect flipped bit", order, byteIdx)
		}
	}
}

func TestValidate_OverwrittenOffsetDiffers(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 1<<9)
	stamp.Fill(buf, 9, 4096, 7)

	got, err := stamp.Validate(buf, 9, 7)
	require.NoError(t, err)
	require.NotEqual(t, uint64(8192), got, "sanity: offsets should differ in this test")

	// A stamp written for a different offset still validates cleanly
	// (tri-state "Overwritten" per spec.md §3) — Validate only
	// reports what offset it found, callers compare against what they
	// expected.
	assert.Equal(t, uint64(4096), got)
}

func TestFill_PanicsOnWrongBufferLength(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("Fill with wrong-size buffer did not panic")
		}
	}()
	stamp.Fill(make([]byte, 10), 9, 0, 0)
}

func TestValidateTolerant(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 1<<9)
	stamp.Fill(buf, 9, 4096, 7)

	assert.Equal(t, stamp.ClassGood, stamp.ValidateTolerant(buf, 9, 4096, 7))

	// Flip exactly one derived word (not the offset word): still
	// within tolerance.
	buf[2*8] ^= 0xff
	assert.Equal(t, stamp.ClassChanged, stamp.ValidateTolerant(buf, 9, 4096, 7))

	// Flip enough additional words to exceed the tolerance.
	buf[3*8] ^= 0xff
	buf[4*8] ^= 0xff
	assert.Equal(t, stamp.ClassBad, stamp.ValidateTolerant(buf, 9, 4096, 7))

	// A different offset is always Bad regardless of derived words.
	assert.Equal(t, stamp.ClassBad, stamp.ValidateTolerant(buf, 9, 8192, 7))
}
