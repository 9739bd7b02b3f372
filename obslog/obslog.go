// Package obslog builds the structured logger threaded through the batch
// driver and the VEO assembler. There is no process-wide default logger;
// every component that needs to log takes a *slog.Logger explicitly.
package obslog

import (
	"io"
	"log/slog"
)

// Level mirrors the CLI's -v/-vv verbosity flags.
type Level int

const (
	// Quiet emits only warnings and errors.
	Quiet Level = iota
	// Chatty emits info-level progress lines (-v).
	Chatty
	// Verbose emits debug-level detail (-vv).
	Verbose
)

// New builds a JSON-handler logger writing to w, matching the teacher's
// cmd/*/main.go construction (slog.New(slog.NewJSONHandler(os.Stdout, nil))),
// scoped to the given verbosity.
func New(w io.Writer, level Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: toSlogLevel(level)}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case Verbose:
		return slog.LevelDebug
	case Chatty:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Discard returns a logger that drops everything, for tests and library
// callers who don't want batch-driver diagnostics on their own stdout.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
