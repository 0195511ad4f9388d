package observability

import (
	"io"
	"log/slog"
)

// Log formats accepted by NewLoggerForFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLoggerForFormat returns a JSON logger for LogFormatJSON and a text logger otherwise.
func NewLoggerForFormat(w io.Writer, format string, verbose bool) *slog.Logger {
	if format == LogFormatJSON {
		return NewJSONLogger(w, verbose)
	}
	return NewLogger(w, verbose)
}

// NewLogger returns a text logger writing to w. Verbose lowers the level to debug.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger returns a JSON logger for non-interactive runs.
func NewJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
