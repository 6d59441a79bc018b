// Package logging provides structured logging for planweave runs. It wraps
// Go's log/slog package: runs write JSON-formatted logs to a rotating file
// for post-hoc analysis, while interactive use gets colorized console
// output on stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	*slog.Logger
	writer *RotatingWriter
}

// NewLogger creates a Logger for a run. If runDir is non-empty, logs are
// written as JSON to {runDir}/run.log with size-based rotation; otherwise
// they go to stderr through a console handler, colorized when stderr is a
// terminal.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
func NewLogger(runDir, level string) (*Logger, error) {
	slogLevel := parseLevel(level)

	if runDir == "" {
		return &Logger{Logger: slog.New(consoleHandler(os.Stderr, slogLevel))}, nil
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	writer, err := NewRotatingWriter(filepath.Join(runDir, "run.log"), DefaultRotationConfig())
	if err != nil {
		return nil, err
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{Logger: slog.New(handler), writer: writer}, nil
}

// consoleHandler builds the stderr handler, with color only when attached
// to a terminal.
func consoleHandler(w *os.File, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// child wraps a derived slog.Logger, sharing the parent's writer.
func (l *Logger) child(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), writer: l.writer}
}

// WithRun returns a child Logger with the run ID added to all log entries.
func (l *Logger) WithRun(runID string) *Logger {
	return l.child("run_id", runID)
}

// WithPlan returns a child Logger with the plan ID added to all log entries.
func (l *Logger) WithPlan(planID string) *Logger {
	return l.child("plan_id", planID)
}

// WithStep returns a child Logger with the step ID added to all log entries.
func (l *Logger) WithStep(stepID string) *Logger {
	return l.child("step_id", stepID)
}

// WithStrategy returns a child Logger with the planning strategy name added
// to all log entries.
func (l *Logger) WithStrategy(name string) *Logger {
	return l.child("strategy", name)
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return l.child(args...)
}

// Close flushes and closes the log file. A no-op for console loggers.
func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel normalizes a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
