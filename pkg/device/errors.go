package device

import "errors"

// Error taxonomy for the device stack and prober. Every error returned
// by the Device implementations in this module wraps exactly one of
// these sentinels, so callers can branch with errors.Is regardless of
// how much call-site context has been attached.
var (
	// ErrInvalidArgument marks a parameter that failed validation
	// (ParamValid) or a position outside a device's addressable range.
	// Programming errors: callers should not retry.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrIO marks a failed underlying read, write, or reset. The
	// devices return it on the first failure; the prober retries each
	// device call once and treats a repeated ErrIO as terminal.
	ErrIO = errors.New("device: i/o error")

	// ErrDeviceGone marks a reset that could not restore the device
	// (e.g. a USB reset that never reappeared). Fatal: probing must
	// terminate with its best-known state.
	ErrDeviceGone = errors.New("device: device did not come back after reset")

	// ErrUnsupported marks a requested capability not available in
	// the current environment (e.g. a reset policy the platform
	// cannot perform). Reported at construction time.
	ErrUnsupported = errors.New("device: unsupported operation")

	// ErrOutOfMemory marks a failed allocation for a snapshot arena
	// or bitmap. Fatal at construction.
	ErrOutOfMemory = errors.New("device: out of memory")
)

// OpError attaches call-site context to one of the sentinel errors
// above. Unwrap returns the sentinel, so errors.Is(err,
// device.ErrIO) keeps working through the wrapper.
type OpError struct {
	// Op names the failing operation, e.g. "read_blocks", "reset".
	Op string
	// Pos describes the affected position or range, e.g. "pos=42" or
	// "range=[100,200]". Empty when not applicable.
	Pos string
	Err error
}

func (e *OpError) Error() string {
	if e.Pos == "" {
		return "device: " + e.Op + ": " + e.Err.Error()
	}
	return "device: " + e.Op + " " + e.Pos + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
