package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that indicate a log attribute key holds a secret value.
// Values logged under these keys will be fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"credential",
}

// onionKeyPattern matches serialized onion service keys (ED25519-V3:<base64>).
var onionKeyPattern = regexp.MustCompile(`\bED25519-V3:[A-Za-z0-9+/=]+`)

// longHexPattern matches hex strings of 64 or more characters that look like key material.
var longHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64,}\b`)

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(redacted...)

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

// redactAttr returns a copy of the attribute with its value redacted if necessary.
func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	// Check if the key name itself indicates sensitive data.
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	// For string values, scan and redact known secret patterns inline.
	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		redacted := redactString(val)
		if redacted != val {
			return slog.String(a.Key, redacted)
		}
	}

	return a
}

// redactString scans a string value and replaces known secret patterns.
func redactString(val string) string {
	// Onion service keys: keep the type tag, mask the key body.
	val = onionKeyPattern.ReplaceAllString(val, "ED25519-V3:[REDACTED]")

	// Long hex strings the size of raw key material. SHA-256 content
	// hashes are exactly 64 hex chars and are fine to log, so only
	// strings strictly longer than 64 are masked.
	val = longHexPattern.ReplaceAllStringFunc(val, func(match string) string {
		if len(match) == 64 {
			return match
		}
		return match[:8] + "...[REDACTED]"
	})

	return val
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
// After calling this, all log output through the global logging functions
// will have sensitive values automatically redacted.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()

	// Avoid double-wrapping if already a RedactingHandler
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}

	redacting := NewRedactingHandler(handler)
	defaultLogger = slog.New(redacting)
}

// NewRedactingLogger creates a new slog.Logger with redaction enabled.
func NewRedactingLogger(inner slog.Handler) *slog.Logger {
	return slog.New(NewRedactingHandler(inner))
}
