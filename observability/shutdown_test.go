package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric"
	metricznoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// mockProvider records which lifecycle calls were made
type mockProvider struct {
	shutdownErr    error
	flushErr       error
	shutdownCalled bool
	flushCalled    bool
	deadline       time.Time
}

func (m *mockProvider) TracerProvider() trace.TracerProvider {
	return noop.NewTracerProvider()
}

func (m *mockProvider) MeterProvider() metric.MeterProvider {
	return metricznoop.NewMeterProvider()
}

func (m *mockProvider) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	m.deadline, _ = ctx.Deadline()
	return m.shutdownErr
}

func (m *mockProvider) ForceFlush(_ context.Context) error {
	m.flushCalled = true
	return m.flushErr
}

func TestShutdownFlushesFirst(t *testing.T) {
	mock := &mockProvider{}

	assert.NoError(t, Shutdown(mock, time.Second))
	assert.True(t, mock.flushCalled)
	assert.True(t, mock.shutdownCalled)
}

func TestShutdownNilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(nil, time.Second))
}

func TestShutdownError(t *testing.T) {
	shutdownErr := errors.New("exporter unreachable")
	mock := &mockProvider{shutdownErr: shutdownErr}

	err := Shutdown(mock, time.Second)
	assert.ErrorIs(t, err, shutdownErr)
	assert.Contains(t, err.Error(), "telemetry shutdown failed")
}

func TestShutdownAfterFailedFlush(t *testing.T) {
	flushErr := errors.New("flush timed out")
	shutdownErr := errors.New("exporter unreachable")
	mock := &mockProvider{flushErr: flushErr, shutdownErr: shutdownErr}

	err := Shutdown(mock, time.Second)
	assert.True(t, mock.shutdownCalled, "a failed flush must not skip shutdown")
	assert.ErrorIs(t, err, flushErr)
	assert.ErrorIs(t, err, shutdownErr)
}

func TestShutdownDefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		mock := &mockProvider{}
		before := time.Now()

		assert.NoError(t, Shutdown(mock, timeout))
		assert.WithinDuration(t, before.Add(DefaultShutdownTimeout), mock.deadline, time.Second)
	}
}
