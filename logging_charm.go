// logging_charm.go: Logger adapter for charmbracelet/log terminal output
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// CharmLogger adapts a charmbracelet/log logger to the Logger interface.
type CharmLogger struct {
	logger *charmlog.Logger
}

// NewCharmLogger creates a leveled terminal logger writing to w (stderr when
// nil). Unknown levels fall back to info.
func NewCharmLogger(w io.Writer, level string) *CharmLogger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	return &CharmLogger{
		logger: charmlog.NewWithOptions(w, charmlog.Options{
			Prefix:          "modhub",
			Level:           lvl,
			ReportTimestamp: true,
		}),
	}
}

// Debug implements Logger interface
func (c *CharmLogger) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }

// Info implements Logger interface
func (c *CharmLogger) Info(msg string, args ...any) { c.logger.Info(msg, args...) }

// Warn implements Logger interface
func (c *CharmLogger) Warn(msg string, args ...any) { c.logger.Warn(msg, args...) }

// Error implements Logger interface
func (c *CharmLogger) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

// With implements Logger interface
func (c *CharmLogger) With(args ...any) Logger {
	return &CharmLogger{logger: c.logger.With(args...)}
}
