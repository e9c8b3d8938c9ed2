// Package logging builds the structured logger used for diagnostics.
//
// Operator-facing output (banners, prompts, results) is printed directly
// to stdout by the commands. Everything else goes through a *slog.Logger
// on stderr: human-readable text when stderr is a terminal, JSON when it
// is piped or redirected.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// New returns a logger writing to w. Debug records are only emitted when
// verbose is set.
func New(w io.Writer, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: Level(verbose)}

	// Text for people, JSON for log collectors.
	var handler slog.Handler
	if IsTerminal(w) {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// Level maps the --verbose flag to a slog level.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	// Buffers in tests and pipes wrapped by cobra are never terminals.
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	// x/term checks the descriptor with an ioctl on Unix and
	// GetConsoleMode on Windows.
	return term.IsTerminal(int(f.Fd()))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
