// Package logging provides structured logging on top of log/slog with
// request-correlation context binding and redaction of secrets that might
// otherwise leak into log lines (API keys, bearer tokens, JWTs).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ContextKey is the type for context keys this package recognizes.
type ContextKey string

const (
	RequestIDKey      ContextKey = "request_id"
	ConversationIDKey ContextKey = "conversation_id"
	AgentIDKey        ContextKey = "agent_id"
)

// Config configures the logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// redactPatterns catches the secret shapes most likely to appear in a log
// argument by accident: bearer tokens, API keys, and JWTs.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
}

const redacted = "[REDACTED]"

type redactingHandler struct {
	slog.Handler
}

func (h redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool { return true })
	newRecord := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(redactString(a.Value.String()))
		}
		newRecord.AddAttrs(a)
		return true
	})
	return h.Handler.Handle(ctx, newRecord)
}

func (h redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(redactString(a.Value.String()))
		}
		scrubbed[i] = a
	}
	return redactingHandler{Handler: h.Handler.WithAttrs(scrubbed)}
}

func (h redactingHandler) WithGroup(name string) slog.Handler {
	return redactingHandler{Handler: h.Handler.WithGroup(name)}
}

func redactString(s string) string {
	for _, pattern := range redactPatterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

// New builds a *slog.Logger. An invalid or empty Level defaults to info; an
// empty Format defaults to json.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	level := parseLevel(cfg.Level)

	var base slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		base = slog.NewTextHandler(cfg.Output, opts)
	} else {
		base = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(redactingHandler{Handler: base})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithRequestID binds a request ID to ctx for later extraction by FromContext
// attrs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithConversationID binds a conversation ID to ctx.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// FromContext returns a logger with request/conversation/agent IDs bound as
// attributes, if present in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		logger = logger.With("request_id", v)
	}
	if v, ok := ctx.Value(ConversationIDKey).(string); ok && v != "" {
		logger = logger.With("conversation_id", v)
	}
	if v, ok := ctx.Value(AgentIDKey).(string); ok && v != "" {
		logger = logger.With("agent_id", v)
	}
	return logger
}
