package core

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides a structured logging interface for the application.
type Logger interface {
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Debug(msg string, fields ...any)
}

// slogLogger wraps the standard library slog.Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a JSON logger on stderr with the specified log level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return &slogLogger{logger: slog.New(handler)}
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to slog; unknown names mean info.
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

func (l *slogLogger) Info(msg string, fields ...any) {
	l.logger.Info(msg, fields...)
}

func (l *slogLogger) Warn(msg string, fields ...any) {
	l.logger.Warn(msg, fields...)
}

func (l *slogLogger) Error(msg string, fields ...any) {
	l.logger.Error(msg, fields...)
}

func (l *slogLogger) Debug(msg string, fields ...any) {
	l.logger.Debug(msg, fields...)
}
