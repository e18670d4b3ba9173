// Package logging builds the process slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ParseLevel maps a level name to a slog level. Unknown names mean info.
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

// New returns a logger writing to w. format is "text", "json" or "console";
// console renders records in color through zerolog's ConsoleWriter.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "console":
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
		opts.ReplaceAttr = consoleKeys
		return slog.New(slog.NewJSONHandler(cw, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// consoleKeys renames slog's built-in keys to the ones ConsoleWriter expects.
func consoleKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		a.Key = zerolog.MessageFieldName
	case slog.LevelKey:
		a.Key = zerolog.LevelFieldName
		a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
	case slog.TimeKey:
		a.Key = zerolog.TimestampFieldName
	case "error":
		a.Key = zerolog.ErrorFieldName
	}
	return a
}
