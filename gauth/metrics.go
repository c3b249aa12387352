package gauth

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gaborage/gauth/observability"
)

const (
	metricRequests         = "gauth.client.requests"
	metricInflight         = "gauth.client.requests.inflight"
	metricRequestDuration  = "gauth.client.request.duration"
	metricRetries          = "gauth.client.retries"
	metricRedirects        = "gauth.client.redirects"
	metricReauthentication = "gauth.client.reauthentications"
	metricLogins           = "gauth.login.attempts"

	outcomeAttr = "gauth.outcome"
	methodAttr  = "http.request.method"
	serviceAttr = "gauth.service"
)

// instruments holds the session's metric instruments
type instruments struct {
	requests  metric.Int64Counter
	inflight  metric.Int64UpDownCounter
	duration  metric.Float64Histogram
	retries   metric.Int64Counter
	redirects metric.Int64Counter
	reauths   metric.Int64Counter
	logins    metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		m   instruments
		err error
	)
	if m.requests, err = observability.CreateCounter(meter, metricRequests, "Executed requests by final outcome"); err != nil {
		return nil, err
	}
	if m.inflight, err = observability.CreateUpDownCounter(meter, metricInflight, "Execute calls in progress"); err != nil {
		return nil, err
	}
	if m.duration, err = observability.CreateHistogram(meter, metricRequestDuration, "Execute duration in milliseconds, retries included", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.retries, err = observability.CreateCounter(meter, metricRetries, "Sends repeated after a transient failure"); err != nil {
		return nil, err
	}
	if m.redirects, err = observability.CreateCounter(meter, metricRedirects, "Redirects followed"); err != nil {
		return nil, err
	}
	if m.reauths, err = observability.CreateCounter(meter, metricReauthentication, "Tokens invalidated after an authorization failure"); err != nil {
		return nil, err
	}
	if m.logins, err = observability.CreateCounter(meter, metricLogins, "ClientLogin exchanges by result"); err != nil {
		return nil, err
	}
	return &m, nil
}

// outcomeLabel is "success" or the error kind
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	var ce ClientError
	if errors.As(err, &ce) {
		return string(ce.Kind())
	}
	return "error"
}

func (m *instruments) recordCall(ctx context.Context, method string, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(methodAttr, method),
		attribute.String(outcomeAttr, outcomeLabel(err)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// trackInflight counts a call in progress; the returned func ends it
func (m *instruments) trackInflight(ctx context.Context, method string) func() {
	attrs := metric.WithAttributes(attribute.String(methodAttr, method))
	m.inflight.Add(ctx, 1, attrs)
	return func() { m.inflight.Add(ctx, -1, attrs) }
}

func (m *instruments) recordRetry(ctx context.Context, method string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(methodAttr, method)))
}

func (m *instruments) recordRedirect(ctx context.Context, method string) {
	m.redirects.Add(ctx, 1, metric.WithAttributes(attribute.String(methodAttr, method)))
}

func (m *instruments) recordReauth(ctx context.Context, method string) {
	m.reauths.Add(ctx, 1, metric.WithAttributes(attribute.String(methodAttr, method)))
}

func (m *instruments) recordLogin(ctx context.Context, service string, err error) {
	m.logins.Add(ctx, 1, metric.WithAttributes(
		attribute.String(serviceAttr, service),
		attribute.String(outcomeAttr, outcomeLabel(err)),
	))
}
