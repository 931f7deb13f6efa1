// Package logging provides the engine's structured logger, a thin
// log/slog wrapper satisfying orchestrator.Logger. The teacher ships no
// logging library of its own (NoOpLogger is its only implementation);
// no other example repo's logger is reachable here without pulling in a
// dependency nothing in this tree otherwise needs, so log/slog — already
// idiomatic Go for structured logging — stands in its place.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps a *slog.Logger to satisfy orchestrator.Logger's
// (msg string, args ...interface{}) signature.
type Logger struct {
	slog *slog.Logger
}

// New builds a Logger writing JSON lines to os.Stderr at level, matching
// the level names accepted by slog ("debug", "info", "warn", "error").
func New(level string) *Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return &Logger{slog: slog.New(handler)}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.slog.Error(msg, args...) }

// With returns a Logger that attaches args to every subsequent log line,
// useful for binding a call_id for the lifetime of a call.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}
