package simbridge

import (
	"io"
	"log/slog"
	"os"
)

// NopLogger returns a logger that discards all output.
// Use this when you want silent operation with no logging overhead.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StderrLogger returns a text logger on stderr gated at the given level.
// Bridge traffic logs at debug, lifecycle events at info; pass
// slog.LevelDebug to watch individual command exchanges.
func StderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
