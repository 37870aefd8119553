package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for a status API request ID
	RequestIDKey contextKey = "request_id"
	// MatrixIDKey is the context key for the matrix invocation ID
	MatrixIDKey contextKey = "matrix_id"
	// RunNameKey is the context key for the run being executed
	RunNameKey contextKey = "run_name"
	// PromptIDKey is the context key for the prompt being issued
	PromptIDKey contextKey = "prompt_id"
)

// contextKeys is the order context values appear in log records
var contextKeys = []contextKey{RequestIDKey, MatrixIDKey, RunNameKey, PromptIDKey}

// Config holds logging configuration
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the global logger. Logs go to stderr unless Output is
// set, keeping stdout free for command output.
func Setup(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	// Wrap with context handler
	handler = &ContextHandler{Handler: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ContextHandler adds context values to log records
type ContextHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing to the wrapped handler
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler in place for derived loggers
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handler in place for derived loggers
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithMatrixID adds the matrix invocation ID to the context
func WithMatrixID(ctx context.Context, matrixID string) context.Context {
	return context.WithValue(ctx, MatrixIDKey, matrixID)
}

// WithRunName adds the current run name to the context
func WithRunName(ctx context.Context, runName string) context.Context {
	return context.WithValue(ctx, RunNameKey, runName)
}

// WithPromptID adds the current prompt ID to the context
func WithPromptID(ctx context.Context, promptID string) context.Context {
	return context.WithValue(ctx, PromptIDKey, promptID)
}

// Logger returns the default logger with the context values attached, for
// code paths that log without passing ctx along
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}

	logger := slog.Default()
	if len(attrs) > 0 {
		return logger.With(attrs...)
	}
	return logger
}

// Audit logs a run lifecycle event (always at info level)
func Audit(ctx context.Context, operation string, attrs ...any) {
	baseAttrs := append([]any{"audit", true, "operation", operation}, attrs...)
	slog.Default().InfoContext(ctx, "AUDIT", baseAttrs...)
}

// Common log operations with context. Context values are added by
// ContextHandler.

// Debug logs a debug message
func Debug(ctx context.Context, msg string, args ...any) {
	slog.Default().DebugContext(ctx, msg, args...)
}

// Info logs an info message
func Info(ctx context.Context, msg string, args ...any) {
	slog.Default().InfoContext(ctx, msg, args...)
}

// Warn logs a warning message
func Warn(ctx context.Context, msg string, args ...any) {
	slog.Default().WarnContext(ctx, msg, args...)
}

// Error logs an error message
func Error(ctx context.Context, msg string, args ...any) {
	slog.Default().ErrorContext(ctx, msg, args...)
}
