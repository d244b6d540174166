// Package log provides structured logging for kafka-flow components.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name (case-insensitive). Empty parses to info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// Logger is the logging interface kafka-flow components depend on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds the fields to every entry.
	With(fields ...Field) Logger
}

// Config selects level and output format for a process-wide logger.
type Config struct {
	// Level: debug|info|warn|error. Defaults to info.
	Level string
	// Format: text|json. Defaults to text.
	Format string
}

// Option configures a logger built by New.
type Option func(*options)

type options struct {
	level  Level
	format string
	out    io.Writer
}

// WithLevel sets the minimum level.
func WithLevel(level Level) Option { return func(o *options) { o.level = level } }

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithOutput redirects log output, primarily for tests.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// New builds a Logger backed by log/slog.
func New(opts ...Option) Logger {
	o := options{level: InfoLevel, format: "text", out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	ho := &slog.HandlerOptions{Level: toSlogLevel(o.level)}
	var h slog.Handler
	if o.format == "json" {
		h = slog.NewJSONHandler(o.out, ho)
	} else {
		h = slog.NewTextHandler(o.out, ho)
	}
	return &logger{s: slog.New(h)}
}

// ApplyConfig builds a Logger from Config, validating level and format.
func ApplyConfig(cfg Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return New(WithLevel(level), WithFormat(format)), nil
}

// Noop returns a logger that discards everything. Useful as a default in
// library constructors.
func Noop() Logger { return New(WithOutput(io.Discard)) }

type logger struct {
	s *slog.Logger
}

func (l *logger) Debug(msg string, fields ...Field) { l.s.Debug(msg, attrs(fields)...) }
func (l *logger) Info(msg string, fields ...Field)  { l.s.Info(msg, attrs(fields)...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.s.Warn(msg, attrs(fields)...) }
func (l *logger) Error(msg string, fields ...Field) { l.s.Error(msg, attrs(fields)...) }

func (l *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &logger{s: l.s.With(attrs(fields)...)}
}

func attrs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
