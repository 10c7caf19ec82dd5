package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// disabled backs a Provider built from a disabled Config. Fetchers, the scheduler
// and the status server still receive usable providers; nothing is recorded.
type disabled struct{}

var _ Provider = disabled{}

func (disabled) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (disabled) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }
func (disabled) Shutdown(context.Context) error       { return nil }
func (disabled) ForceFlush(context.Context) error     { return nil }
