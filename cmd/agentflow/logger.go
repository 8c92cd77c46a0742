package main

import (
	"io"
	"log/slog"

	"github.com/rendis/agentflow/internal/logging"
)

// newLogger writes text logs to w with run, flow and node IDs taken from
// the context of each record.
func newLogger(w io.Writer, level string) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(text))
}
