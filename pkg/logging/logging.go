// Package logging provides the default structured logger for bugstr
// binaries. Library code takes a *slog.Logger through its Config instead
// of reaching for a global.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a colored text logger writing to stderr at the given level.
func New(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used by tests and by the
// SDK when the host application supplies no logger and wants no output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, &slog.HandlerOptions{
		Level: slog.Level(127),
	}))
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
