package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Redacted replaces values stored under sensitive keys.
const Redacted = "[REDACTED]"

// sensitiveKeys is the fixed set of parameter key fragments that must never
// appear in cleartext in logs or audit rows. Matching is case-insensitive
// and by substring, so "client_secret" and "X-Api-Key" both match.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"key",
	"auth",
	"credential",
	"client_secret",
	"private_key",
	"api_key",
}

// Sanitizer performs recursive sensitive-key redaction over parameter maps
// and log attributes. It is stateless and safe for concurrent use.
type Sanitizer struct{}

// NewSanitizer returns a Sanitizer with the fixed sensitive key set.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// IsSensitiveKey reports whether a key must have its value redacted.
func (s *Sanitizer) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// SanitizeMap returns a deep copy of params with values under sensitive
// keys replaced by the Redacted marker. Nested maps and slices are
// traversed; all other values are copied as-is. The input is never
// modified.
func (s *Sanitizer) SanitizeMap(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if s.IsSensitiveKey(key) {
			out[key] = Redacted
			continue
		}
		out[key] = s.sanitizeValue(value)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return s.SanitizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}

// redactingHandler wraps an slog.Handler and redacts attribute values whose
// keys match the sensitive set before records reach the output writer.
type redactingHandler struct {
	inner     slog.Handler
	sanitizer *Sanitizer
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted), sanitizer: h.sanitizer}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), sanitizer: h.sanitizer}
}

func (h *redactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		redacted := make([]any, 0, len(group))
		for _, member := range group {
			redacted = append(redacted, h.redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	}
	if h.sanitizer.IsSensitiveKey(attr.Key) {
		return slog.String(attr.Key, Redacted)
	}
	return attr
}
