// Package trace carries a per-call request identifier through context so that
// every send attempt of one logical call (retries, redirects, re-authentication)
// shares the same X-Request-ID.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// HeaderXRequestID is the header the request ID travels in
	HeaderXRequestID = "X-Request-ID"
)

// WithRequestID stores id in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID stored in ctx, if any
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureRequestID returns ctx carrying a request ID, generating a UUID when
// none is present, together with the ID itself.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}
