// Package observability wires OpenTelemetry tracing and metrics export for the
// gauth CLI and exposes helpers for creating instruments.
package observability

import (
	"fmt"
	"strings"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that writes to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default environment name.
	EnvironmentDevelopment = "development"
)

// BoolPtr returns a pointer to the provided bool value.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to the provided float64 value.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Config defines the configuration for tracing and metrics export.
type Config struct {
	// Enabled controls whether observability is active.
	// When false, all observability operations become no-ops.
	Enabled bool `koanf:"enabled"`

	// Service identifies the process in traces and metrics.
	Service ServiceConfig `koanf:"service"`

	// Environment indicates the deployment environment (e.g., production, development).
	Environment string `koanf:"environment"`

	Trace   TraceConfig   `koanf:"trace"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServiceConfig contains service identification metadata.
type ServiceConfig struct {
	// Name is required when observability is enabled.
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// TraceConfig defines configuration for distributed tracing.
type TraceConfig struct {
	// Enabled: nil applies the default (true when observability is enabled).
	Enabled *bool `koanf:"enabled"`

	// Endpoint is "stdout" or an OTLP endpoint ("http://localhost:4318" for
	// HTTP, "localhost:4317" for gRPC).
	Endpoint string `koanf:"endpoint"`

	// Protocol is "http" or "grpc". Metrics use the same protocol.
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS on OTLP connections.
	Insecure bool `koanf:"insecure"`

	// Headers are sent with every OTLP export (e.g. API keys).
	Headers map[string]string `koanf:"headers"`

	// SampleRate is the fraction of traces kept; nil applies 1.0.
	SampleRate *float64 `koanf:"samplerate"`

	// BatchTimeout is how long spans wait before export.
	BatchTimeout time.Duration `koanf:"batchtimeout"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `koanf:"exporttimeout"`
}

// MetricsConfig defines configuration for metrics export.
type MetricsConfig struct {
	// Enabled: nil applies the default (true when observability is enabled).
	Enabled *bool `koanf:"enabled"`

	Endpoint string `koanf:"endpoint"`

	// Interval between periodic exports.
	Interval time.Duration `koanf:"interval"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `koanf:"exporttimeout"`
}

// ApplyDefaults sets default values for any config fields that are not specified.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Endpoint == EndpointStdout {
		c.Trace.Insecure = true
	}
	// An explicit 0.0 is respected
	if c.Trace.SampleRate == nil {
		c.Trace.SampleRate = Float64Ptr(1.0)
	}
	if c.Trace.BatchTimeout == 0 {
		if c.Environment == EnvironmentDevelopment || c.Trace.Endpoint == EndpointStdout {
			c.Trace.BatchTimeout = 500 * time.Millisecond
		} else {
			c.Trace.BatchTimeout = 5 * time.Second
		}
	}
	if c.Trace.ExportTimeout == 0 {
		c.Trace.ExportTimeout = c.exportTimeout(c.Trace.Endpoint)
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 10 * time.Second
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = c.exportTimeout(c.Metrics.Endpoint)
	}
}

// exportTimeout fails fast in development and allows for network latency elsewhere
func (c *Config) exportTimeout(endpoint string) time.Duration {
	if c.Environment == EnvironmentDevelopment || endpoint == EndpointStdout {
		return 10 * time.Second
	}
	return 60 * time.Second
}

// Validate checks the configuration. It should be called after ApplyDefaults.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}

	if c.Trace.Enabled != nil && *c.Trace.Enabled {
		if c.Trace.SampleRate != nil && (*c.Trace.SampleRate < 0 || *c.Trace.SampleRate > 1) {
			return ErrInvalidSampleRate
		}
		if err := validateEndpoint("trace", c.Trace.Endpoint, c.Trace.Protocol); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled != nil && *c.Metrics.Enabled {
		if err := validateEndpoint("metrics", c.Metrics.Endpoint, c.Trace.Protocol); err != nil {
			return err
		}
	}
	return nil
}

// validateEndpoint: gRPC endpoints are "host:port", HTTP endpoints carry a scheme.
func validateEndpoint(signal, endpoint, protocol string) error {
	if endpoint == EndpointStdout {
		return nil
	}
	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
	switch protocol {
	case ProtocolHTTP:
		if !hasScheme {
			return fmt.Errorf("%s endpoint %q: %w", signal, endpoint, ErrInvalidEndpointFormat)
		}
	case ProtocolGRPC:
		if hasScheme {
			return fmt.Errorf("%s endpoint %q: %w", signal, endpoint, ErrInvalidEndpointFormat)
		}
	default:
		return fmt.Errorf("%s protocol '%s': %w", signal, protocol, ErrInvalidProtocol)
	}
	return nil
}
