package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// restoreGlobals undoes the otel globals NewProvider installs.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNewProviderDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(Config{}, nil)
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderStdout(t *testing.T) {
	restoreGlobals(t)
	var out bytes.Buffer

	p, err := NewProvider(Config{Enabled: true, ServiceName: "retrievald-test"}, nil, WithWriter(&out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(p, time.Second) })

	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "stdout-span")
	span.End()

	counter, err := CreateCounter(p.MeterProvider().Meter("test"), "test.ticks", "ticks")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	hist, err := CreateHistogram(p.MeterProvider().Meter("test"), "test.latency", "latency")
	require.NoError(t, err)
	hist.Record(context.Background(), 12.5)

	require.NoError(t, p.ForceFlush(context.Background()))

	assert.Contains(t, out.String(), "stdout-span")
	assert.Contains(t, out.String(), "test.ticks")
	assert.Contains(t, out.String(), "test.latency")
	assert.Contains(t, out.String(), "retrievald-test")
}

func TestNewProviderOTLPExportersAreLazy(t *testing.T) {
	for _, protocol := range []string{ProtocolHTTP, ProtocolGRPC} {
		t.Run(protocol, func(t *testing.T) {
			restoreGlobals(t)

			p, err := NewProvider(Config{
				Enabled:  true,
				Endpoint: "127.0.0.1:4318",
				Protocol: protocol,
				Insecure: true,
				Headers:  map[string]string{"api-key": "secret"},
			}, nil)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			_ = p.Shutdown(ctx)
		})
	}
}

func TestNewProviderRejectsUnknownProtocol(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Endpoint: "collector:4318", Protocol: "udp"}, nil)
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrNilConfig)

	cfg := Config{Enabled: true}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingServiceName)

	cfg.ApplyDefaults()
	assert.Equal(t, defaultServiceName, cfg.ServiceName)
	assert.Equal(t, EndpointStdout, cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, defaultMetricInterval, cfg.MetricInterval)
	assert.NoError(t, cfg.Validate())

	disabled := Config{Protocol: "bogus"}
	assert.NoError(t, disabled.Validate())
}

func TestShutdownHelper(t *testing.T) {
	assert.NoError(t, Shutdown(nil, 0))

	p, err := NewProvider(Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, Shutdown(p, 0))
}
