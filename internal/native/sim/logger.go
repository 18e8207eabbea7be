package sim

import (
	"io"
	"log/slog"
)

// newStderrLogger builds the JSON logger used by secondary processes, whose
// stdout carries the control channel.
func newStderrLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
