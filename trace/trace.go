// Package trace carries request correlation identifiers for outgoing retrievals.
package trace

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// HeaderXRequestID is the standard header name for request correlation.
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name.
	HeaderTraceParent = "traceparent"
	// HeaderTraceState is the W3C trace context "tracestate" header name.
	HeaderTraceState = "tracestate"
)

var propagator = propagation.TraceContext{}

// WithRequestID stores a request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID from context if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureRequestID returns an existing request ID from context or generates a new one.
func EnsureRequestID(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.New().String()
}

// OutgoingHeaders builds the correlation headers for a request made within ctx.
// W3C trace context headers are only present when ctx carries a valid span.
func OutgoingHeaders(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)

	headers := make(map[string]string, len(carrier)+1)
	for key, value := range carrier {
		headers[key] = value
	}
	headers[HeaderXRequestID] = EnsureRequestID(ctx)
	return headers
}
