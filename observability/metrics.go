package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc/credentials/insecure"
)

// initMeterProvider initializes the OpenTelemetry meter provider.
func (p *provider) initMeterProvider() error {
	res, err := p.createResource()
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := p.createMetricExporter()
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(
		exporter,
		sdkmetric.WithInterval(p.config.Metrics.Interval),
		sdkmetric.WithTimeout(p.config.Metrics.ExportTimeout),
	)

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	return nil
}

// createMetricExporter creates a metric exporter based on the configured endpoint.
func (p *provider) createMetricExporter() (sdkmetric.Exporter, error) {
	endpoint := p.config.Metrics.Endpoint

	if endpoint == EndpointStdout {
		return stdoutmetric.New(
			stdoutmetric.WithPrettyPrint(),
		)
	}

	// Metrics use the trace protocol
	protocol := p.config.Trace.Protocol
	switch protocol {
	case ProtocolHTTP:
		return p.createOTLPHTTPMetricExporter()
	case ProtocolGRPC:
		return p.createOTLPGRPCMetricExporter()
	default:
		return nil, fmt.Errorf("metrics protocol '%s': %w", protocol, ErrInvalidProtocol)
	}
}

// createOTLPHTTPMetricExporter creates an OTLP HTTP metric exporter.
func (p *provider) createOTLPHTTPMetricExporter() (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpointURL(p.config.Metrics.Endpoint),
	}

	if p.config.Trace.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	if len(p.config.Trace.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(p.config.Trace.Headers))
	}

	return otlpmetrichttp.New(context.Background(), opts...)
}

// createOTLPGRPCMetricExporter creates an OTLP gRPC metric exporter.
func (p *provider) createOTLPGRPCMetricExporter() (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.Metrics.Endpoint),
	}

	if p.config.Trace.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	if len(p.config.Trace.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(p.config.Trace.Headers))
	}

	return otlpmetricgrpc.New(context.Background(), opts...)
}

// CreateCounter creates a new counter metric instrument.
// Counters are monotonically increasing values (e.g., request count, error count).
func CreateCounter(meter metric.Meter, name, description string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return meter.Int64Counter(
		name,
		append([]metric.Int64CounterOption{
			metric.WithDescription(description),
		}, opts...)...,
	)
}

// CreateHistogram creates a new histogram metric instrument.
//
// Example:
//
//	histogram, err := CreateHistogram(meter, "gauth.client.request.duration", "Request duration in milliseconds")
//	if err != nil {
//	    return err
//	}
//	histogram.Record(ctx, 123.45, metric.WithAttributes(attribute.String("method", "GET")))
func CreateHistogram(meter metric.Meter, name, description string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return meter.Float64Histogram(
		name,
		append([]metric.Float64HistogramOption{
			metric.WithDescription(description),
		}, opts...)...,
	)
}

// CreateUpDownCounter creates a new up-down counter metric instrument.
// Up-down counters can increase or decrease (e.g., in-flight requests).
func CreateUpDownCounter(meter metric.Meter, name, description string, opts ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	return meter.Int64UpDownCounter(
		name,
		append([]metric.Int64UpDownCounterOption{
			metric.WithDescription(description),
		}, opts...)...,
	)
}
