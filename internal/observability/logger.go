// Package observability sets up structured logging and Prometheus metrics.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup configures the default slog logger from level and format strings
// (e.g. level="debug", format="json") and returns it.
func Setup(level, format string) *slog.Logger {
	return setup(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination. Stdio MCP servers log
// to stderr since stdout carries the protocol.
func SetupWriter(w io.Writer, level, format string) *slog.Logger {
	return setup(w, level, format)
}

func setup(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
