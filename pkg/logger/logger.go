// Package logger provides component-scoped structured logging for deskhand.
//
// Every subsystem logs through the CF ("component + fields") helpers so that
// log lines can be filtered per component (shell, filecache, editor, ...).
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	base    = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	level   = new(slog.LevelVar)
	verbose bool
)

// Init replaces the default logger. w is typically os.Stderr; the MCP stdio
// transport owns stdout, so nothing may ever log there.
func Init(w io.Writer, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	verbose = debug
	base = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetDebug toggles debug-level logging at runtime.
func SetDebug(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = debug
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

func attrs(component string, fields map[string]any) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]any) {
	current().Debug(msg, attrs(component, fields)...)
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]any) {
	current().Info(msg, attrs(component, fields)...)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]any) {
	current().Warn(msg, attrs(component, fields)...)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]any) {
	current().Error(msg, attrs(component, fields)...)
}
