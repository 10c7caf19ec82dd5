package trace

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestHeaderConstants(t *testing.T) {
	assert.Equal(t, "X-Request-ID", HeaderXRequestID)
	assert.Equal(t, "traceparent", HeaderTraceParent)
	assert.Equal(t, "tracestate", HeaderTraceState)
}

func TestEnsureRequestIDUsesExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "existing-id")
	assert.Equal(t, "existing-id", EnsureRequestID(ctx))
}

func TestEnsureRequestIDGeneratesWhenMissing(t *testing.T) {
	got := EnsureRequestID(context.Background())
	assert.Regexp(t, regexp.MustCompile(`^[a-f0-9\-]{36}$`), got)
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	_, ok := RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestOutgoingHeadersWithoutSpan(t *testing.T) {
	headers := OutgoingHeaders(WithRequestID(context.Background(), "abc"))

	assert.Equal(t, "abc", headers[HeaderXRequestID])
	_, ok := headers[HeaderTraceParent]
	assert.False(t, ok)
}

func TestOutgoingHeadersWithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	headers := OutgoingHeaders(ctx)
	require.Contains(t, headers, HeaderTraceParent)
	assert.Regexp(t, `^00-[0-9a-f]{32}-[0-9a-f]{16}-0[01]$`, headers[HeaderTraceParent])
	assert.Contains(t, headers[HeaderTraceParent], span.SpanContext().TraceID().String())
	assert.NotEmpty(t, headers[HeaderXRequestID])
}
