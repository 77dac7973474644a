// Package logger configures log/slog with JSON output and source locations.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the global slog logger writing JSON to stdout.
func Setup(level slog.Level) {
	SetupWriter(os.Stdout, level)
}

// SetupWriter initializes the global slog logger writing JSON to w. Every
// record carries the service name.
func SetupWriter(w io.Writer, level slog.Level) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	slog.SetDefault(slog.New(handler).With("service", "pointledger"))
}

// ParseLevel converts a string log level to slog.Level.
// Valid values: "debug", "info", "warn", "error". Case is ignored.
// Unrecognized values default to info level.
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
