// Package plog is a minimal structured-logging shim over log/slog.
// Its one caller is the safe wrapper, which logs a warning for each
// block its per-block recovery fallback fails to restore; nothing in
// the module calls Info. It intentionally does not grow into a general
// logging facade — callers that need more should use slog directly.
package plog

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects all subsequent log lines to w, formatted as
// text. Tests typically call this with io.Discard or a buffer.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(slog.NewTextHandler(w, nil)))
}

// Discard silences all log output; a convenience for tests.
func Discard() { SetOutput(io.Discard) }

// Warn logs a warning with the given key-value attributes.
func Warn(msg string, args ...any) {
	logger.Load().Warn(msg, args...)
}

// Info logs an informational line with the given key-value attributes.
func Info(msg string, args ...any) {
	logger.Load().Info(msg, args...)
}
