package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// disabledProvider is returned when telemetry is turned off. Sessions still
// create their spans and instruments from it; nothing is recorded.
type disabledProvider struct {
	tracers trace.TracerProvider
	meters  metric.MeterProvider
}

func newDisabledProvider() *disabledProvider {
	return &disabledProvider{
		tracers: tracenoop.NewTracerProvider(),
		meters:  metricnoop.NewMeterProvider(),
	}
}

func (d *disabledProvider) TracerProvider() trace.TracerProvider { return d.tracers }

func (d *disabledProvider) MeterProvider() metric.MeterProvider { return d.meters }

func (d *disabledProvider) Shutdown(context.Context) error { return nil }

func (d *disabledProvider) ForceFlush(context.Context) error { return nil }
