package device

// FakeType classifies a device's misbehavior, derived from its real
// and announced capacities and its wrap bit width. The set is closed:
// every valid parameter tuple maps to exactly one of these five.
type FakeType int

const (
	// Good means the device's real and announced capacities match.
	Good FakeType = iota
	// Bad means the device has no usable capacity at all.
	Bad
	// Limbo means the device is counterfeit but its misbehavior does
	// not fit the Wraparound or Chain patterns.
	Limbo
	// Wraparound means writes past the real capacity silently fold
	// back (modulo the wrap width) onto real storage.
	Wraparound
	// Chain means the address space wraps at a width larger than the
	// real capacity but smaller than the announced one: offsets fold
	// back modulo the wrap width, and folded offsets that fall between
	// the real capacity and the wrap width reach no real storage.
	Chain
)

func (t FakeType) String() string {
	switch t {
	case Good:
		return "good"
	case Bad:
		return "bad"
	case Limbo:
		return "limbo"
	case Wraparound:
		return "wraparound"
	case Chain:
		return "chain"
	default:
		return "unknown"
	}
}

// ParamValid reports whether (realByte, announcedByte, wrap,
// blockOrder) is a valid device parameter tuple: real <= announced,
// 0 <= wrap < 64, 9 <= blockOrder <= 20, both sizes are multiples of
// the block size, and if real == announced then announced <= 1<<wrap.
func ParamValid(realByte, announcedByte uint64, wrap uint64, blockOrder uint8) bool {
	if realByte > announcedByte {
		return false
	}
	if wrap >= 64 {
		return false
	}
	if blockOrder < 9 || blockOrder > 20 {
		return false
	}
	blockSize := BlockSize(blockOrder)
	if realByte%blockSize != 0 || announcedByte%blockSize != 0 {
		return false
	}
	if realByte == announcedByte && wrap < 64 {
		// announced <= 1<<wrap; guard the shift for wrap==63 (no
		// overflow since wrap<64 was already checked above).
		w := uint64(1) << wrap
		if announcedByte > w {
			return false
		}
	}
	return true
}

// ParamToType maps a valid (realByte, announcedByte, wrap) tuple to
// its FakeType, per spec.md §3's classification rules. Callers must
// have already established validity with ParamValid.
func ParamToType(realByte, announcedByte uint64, wrap uint64) FakeType {
	if realByte == announcedByte {
		return Good
	}
	if realByte == 0 {
		return Bad
	}
	w := uint64(1) << wrap
	switch {
	case w <= realByte:
		return Wraparound
	case w < announcedByte:
		return Chain
	default:
		return Limbo
	}
}
