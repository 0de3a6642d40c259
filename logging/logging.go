// Package logging provides the structured logging sink this module
// writes operational events and InvariantViolation reports to. A
// terminal program that owns the screen can never write to stdout/
// stderr directly, so logging goes to a rotating file sink instead,
// pairing stdlib slog with lumberjack.
package logging

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating sink. Zero values fall back to
// sensible defaults (10MB, 3 backups, 28 days).
type Options struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a slog.Logger writing JSON lines to a lumberjack-rotated
// file at opts.Path. If opts.Path is empty, it writes to stderr
// instead (a terminal UI can't share stdout with its own rendering).
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)

	var handler slog.Handler
	if opts.Path == "" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		sink := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		handler = slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// InvariantViolation logs a fatal-but-normalized invariant breach —
// the one class of error this engine ever raises loudly rather than
// surfacing through the ordinary RangeErrorMsg path. It logs once per
// process per named invariant and never panics: the Controller still
// degrades to a safe empty/clamped state at the call site.
type InvariantViolation struct {
	logger   *slog.Logger
	reported map[string]bool
}

// NewInvariantLog wraps logger with the once-per-invariant gate.
func NewInvariantLog(logger *slog.Logger) *InvariantViolation {
	return &InvariantViolation{logger: logger, reported: make(map[string]bool)}
}

// Report logs name/detail the first time name is seen; subsequent
// reports of the same name within the process are suppressed.
func (v *InvariantViolation) Report(name, detail string) {
	if v.reported[name] {
		return
	}
	v.reported[name] = true
	v.logger.Error("invariant violation", "invariant", name, "detail", detail)
}
