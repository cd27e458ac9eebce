// Package log builds the slog loggers used across logsift.
//
// Loggers are injected, never global: each component takes a *slog.Logger in
// its constructor and may add context with With(). The level is controlled by
// configuration (LOGSIFT_LOG_LEVEL / LOG_LEVEL).
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug, JSON: true})
//	engine := search.New(db, logger.With("component", "search"))
//
//	// tests
//	logger := log.NewNop()
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a type alias for *slog.Logger so call sites can depend on this
// package without re-importing log/slog.
type Logger = *slog.Logger

// Config defines logger construction options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON output. Default: false (text)
	JSON bool

	// AddSource adds source file:line to entries. Default: false
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Used by tests to capture
// output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards everything. Tests only; production
// code always constructs via New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string ("debug", "info", "warn", "error",
// case-insensitive) to a slog.Level. Unrecognized values are an error so a
// typo in LOG_LEVEL fails startup instead of silently logging at info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
