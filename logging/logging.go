// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package logging builds the structured loggers used by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

var (
	mu      sync.RWMutex
	current = Config{Level: "info", Format: "json"}
	out     io.Writer = os.Stdout
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Configure sets the process-wide defaults used by New. LTI_LOG_LEVEL
// overrides the configured level.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Level != "" {
		current.Level = cfg.Level
	}
	if cfg.Format != "" {
		current.Format = cfg.Format
	}
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// New returns a logger tagged with component.
func New(component string) zerolog.Logger {
	mu.RLock()
	cfg, w := current, out
	mu.RUnlock()

	level := cfg.Level
	if env := os.Getenv("LTI_LOG_LEVEL"); env != "" {
		level = env
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
