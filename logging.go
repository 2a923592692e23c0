// logging.go: Pluggable logging system with automatic adapter detection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// Logger defines the pluggable logging interface used across the module system.
//
// Hosts plug in any logging framework by implementing these five methods.
// Arguments after the message are alternating key-value pairs.
//
// Example usage:
//
//	manager, err := modhub.NewManager(cfg, modhub.WithLogger(myLogger))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: Used directly
//   - *charmlog.Logger: Wrapped with CharmLogger
//   - nil: Returns NoOpLogger for silent operation
//   - Unsupported types: Panic with descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case *charmlog.Logger:
		return &CharmLogger{logger: l}
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface, *log.Logger or nil")
	}
}

// NoOpLogger discards every message.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// TestLogger captures log messages for assertions. Loggers derived with
// With share the capture buffer of their parent and prepend their fields.
type TestLogger struct {
	sink   *testLogSink
	fields []any
}

type testLogSink struct {
	mu       sync.RWMutex
	messages []TestLogMessage
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testLogSink{}}
}

func (t *TestLogger) record(level, msg string, args []any) {
	all := make([]any, 0, len(t.fields)+len(args))
	all = append(all, t.fields...)
	all = append(all, args...)

	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.messages = append(t.sink.messages, TestLogMessage{Level: level, Message: msg, Args: all})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With implements Logger interface (shares the capture buffer)
func (t *TestLogger) With(args ...any) Logger {
	fields := make([]any, 0, len(t.fields)+len(args))
	fields = append(fields, t.fields...)
	fields = append(fields, args...)
	return &TestLogger{sink: t.sink, fields: fields}
}

// Messages returns a snapshot of the captured messages.
func (t *TestLogger) Messages() []TestLogMessage {
	t.sink.mu.RLock()
	defer t.sink.mu.RUnlock()
	out := make([]TestLogMessage, len(t.sink.messages))
	copy(out, t.sink.messages)
	return out
}

// HasMessage checks if the logger captured a message at level with exactly
// the given text.
func (t *TestLogger) HasMessage(level, message string) bool {
	for _, msg := range t.Messages() {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// HasMessageContaining checks if any message at level contains substr.
func (t *TestLogger) HasMessageContaining(level, substr string) bool {
	for _, msg := range t.Messages() {
		if msg.Level == level && strings.Contains(msg.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.messages = t.sink.messages[:0]
}

// DefaultLogger returns the library default, a NoOpLogger.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// LoggerFromContext extracts a logger from context if available, falling
// back to DefaultLogger.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
