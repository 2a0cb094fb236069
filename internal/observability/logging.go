// Package observability holds the structured logger and the prometheus
// metric families shared by every subsystem.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/webwraith/wraith/internal/redact"
)

// Logger wraps slog with secret redaction. Every message and attribute value
// passes through the redaction patterns before it is written, so a tool
// payload containing an API key never reaches the log stream verbatim.
type Logger struct {
	logger *slog.Logger
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text". JSON for production, text for development.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// ContextKey is the type for context keys carrying correlation fields.
type ContextKey string

const (
	// RunIDKey correlates log lines with an agent run.
	RunIDKey ContextKey = "run_id"

	// SessionIDKey correlates log lines with a browser session.
	SessionIDKey ContextKey = "session_id"

	// NodeIDKey correlates log lines with a mesh node.
	NodeIDKey ContextKey = "node_id"
)

// NewLogger creates a logger from config. Invalid levels fall back to info.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Logger{logger: slog.New(handler)}
}

// NopLogger returns a logger that discards everything. Used as the default
// when a component is constructed without one, mostly in tests.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger with the given key-value pairs attached to every
// record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(scrub(args)...)}
}

// WithContext returns a logger carrying the correlation fields present in
// ctx (run_id, session_id, node_id).
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := make([]any, 0, 6)
	for _, key := range []ContextKey{RunIDKey, SessionIDKey, NodeIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...)}
}

// Debug logs at debug level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(redact.String(msg), scrub(args)...)
}

// Info logs at info level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(redact.String(msg), scrub(args)...)
}

// Warn logs at warn level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(redact.String(msg), scrub(args)...)
}

// Error logs at error level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(redact.String(msg), scrub(args)...)
}

// scrub redacts attribute values, leaving keys untouched. Odd-position
// elements in slog's alternating key-value convention are the values.
func scrub(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if i%2 == 0 {
			out[i] = arg
			continue
		}
		switch v := arg.(type) {
		case string:
			out[i] = redact.String(v)
		case error:
			if v != nil {
				out[i] = redact.String(v.Error())
			} else {
				out[i] = v
			}
		case []byte:
			out[i] = redact.String(string(v))
		case map[string]any, map[string]string:
			out[i] = redact.Value(v)
		default:
			out[i] = v
		}
	}
	return out
}
