package gauth

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io"
	"math/big"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
	"github.com/gaborage/gauth/trace"
)

// State is the position of an executor in its lifecycle
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateSending
	StateRedirecting
	StateReauthenticating
	StateRetrying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateSending:
		return "sending"
	case StateRedirecting:
		return "redirecting"
	case StateReauthenticating:
		return "reauthenticating"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// maxBackoff caps a single retry delay
const maxBackoff = 30 * time.Second

// Executor sends one authorized request, handling login, redirects, one
// forced re-authentication and retries. It is single-use and not safe for
// concurrent use.
type Executor struct {
	session *Session
	method  string
	target  *url.URL
	header  nethttp.Header
	body    *bodyBuffer
	cred    *credential.Credential

	// rejected is the token last refused by the server
	rejected string

	state           State
	attempts        int
	sends           int
	redirects       int
	reauthenticated bool
	executed        atomic.Bool
}

func newExecutor(s *Session, method, target string) (*Executor, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || strings.ContainsAny(method, " \t\r\n") {
		return nil, NewValidationError(fmt.Sprintf("invalid method %q", method), nil)
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, NewValidationError("invalid target URI", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewValidationError(fmt.Sprintf("target must be an absolute http(s) URI, got %q", target), nil)
	}
	return &Executor{
		session: s,
		method:  method,
		target:  u,
		header:  make(nethttp.Header),
	}, nil
}

// Method returns the verb the caller asked for
func (e *Executor) Method() string { return e.method }

// Target returns the current target, which changes as redirects are followed
func (e *Executor) Target() string { return e.target.String() }

// State returns the lifecycle state
func (e *Executor) State() State { return e.state }

// SetHeader sets a header sent on every attempt. Authorization and
// X-HTTP-Method-Override are always set by the executor.
func (e *Executor) SetHeader(name, value string) {
	e.header.Set(name, value)
}

// AddHeader appends a header value sent on every attempt
func (e *Executor) AddHeader(name, value string) {
	e.header.Add(name, value)
}

// SetCredential logs in with cred instead of the session source when no
// token is cached. The session keeps a single token, so a token cached by
// another login is still used. Concurrent logins for cred share one
// exchange, separate from logins with the session source or another
// username.
func (e *Executor) SetCredential(cred credential.Credential) {
	e.cred = &cred
}

// BodyWriter returns the buffer the request body is written to. The same
// bytes are replayed on every attempt. Writes fail with ErrBodyReleased once
// Execute has returned.
func (e *Executor) BodyWriter() io.WriteCloser {
	if e.body == nil {
		e.body = &bodyBuffer{}
		if e.executed.Load() {
			e.body.release()
		}
	}
	return e.body
}

// Execute runs the request to a final outcome. On success the caller owns the
// response body. A second call returns ErrAlreadyExecuted.
func (e *Executor) Execute(ctx context.Context) (*Response, error) {
	if !e.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	defer e.releaseBody()

	ctx, requestID := trace.EnsureRequestID(ctx)
	ctx, span := e.session.tracer.Start(ctx, "gauth.Execute",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", e.method),
			attribute.String("url.full", e.target.String()),
		))
	defer span.End()

	log := e.session.logger.WithFields(map[string]any{
		"request_id": requestID,
		"method":     e.method,
	})

	done := e.session.metrics.trackInflight(ctx, e.method)
	start := time.Now()
	resp, err := e.run(ctx, requestID, log)
	done()
	elapsed := time.Since(start)
	e.session.metrics.recordCall(ctx, e.method, err, elapsed)

	span.SetAttributes(
		attribute.Int("gauth.sends", e.sends),
		attribute.Int("gauth.redirects", e.redirects),
		attribute.Bool("gauth.reauthenticated", e.reauthenticated),
	)
	if err != nil {
		e.state = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().
			Err(err).
			Str("url", e.target.String()).
			Int("sends", e.sends).
			Dur("elapsed", elapsed).
			Msg("Request failed")
		return nil, err
	}

	e.state = StateSucceeded
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	log.Info().
		Str("url", resp.URL).
		Int("status", resp.StatusCode).
		Int("sends", e.sends).
		Dur("elapsed", elapsed).
		Msg("Request completed")
	return resp, nil
}

func (e *Executor) run(ctx context.Context, requestID string, log logger.Logger) (*Response, error) {
	e.attempts = 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, NewCanceledError(err)
		}

		token := e.session.Token()
		if token == "" {
			e.state = StateAuthenticating
			var err error
			token, err = e.session.acquireToken(ctx, e.cred, e.rejected)
			if err != nil {
				return nil, err
			}
		}

		if err := e.session.waitForSend(ctx); err != nil {
			return nil, NewCanceledError(err)
		}

		e.state = StateSending
		out := e.send(ctx, token, requestID)

		switch out.kind {
		case outcomeSuccess:
			out.response.Attempts = e.sends
			out.response.URL = e.target.String()
			return out.response, nil

		case outcomeRedirect:
			if err := e.followRedirect(ctx, out, log); err != nil {
				return nil, err
			}

		case outcomeForbidden:
			if e.reauthenticated {
				return nil, NewForbiddenRetryExhaustedError(out.statusCode, out.body)
			}
			e.reauthenticated = true
			e.state = StateReauthenticating
			e.rejected = token
			e.session.invalidateToken(token)
			e.session.metrics.recordReauth(ctx, e.method)
			log.Warn().
				Int("status", out.statusCode).
				Str("url", e.target.String()).
				Msg("Token rejected, re-authenticating")

		case outcomeTransient:
			if e.attempts > e.session.RetryLimit() {
				return nil, out.err
			}
			e.attempts++
			e.state = StateRetrying
			e.session.metrics.recordRetry(ctx, e.method)
			delay := backoffDelay(e.session.RetryDelay(), e.attempts-2)
			log.Warn().
				Err(out.err).
				Int("attempt", e.attempts).
				Dur("delay", delay).
				Msg("Retrying request")
			if err := sleepContext(ctx, delay); err != nil {
				return nil, NewCanceledError(err)
			}

		default:
			return nil, out.err
		}
	}
}

// send performs one attempt against the current target
func (e *Executor) send(ctx context.Context, token, requestID string) outcome {
	override := e.session.MethodOverride() && e.method != nethttp.MethodGet && e.method != nethttp.MethodPost
	wireMethod := e.method
	if override {
		wireMethod = nethttp.MethodPost
	}

	req, err := e.session.transport.NewRequest(ctx, wireMethod, e.target.String())
	if err != nil {
		return fatal(NewValidationError("failed to build request", err))
	}

	for name, values := range e.header {
		req.SetHeader(name, strings.Join(values, ", "))
	}
	if e.header.Get("User-Agent") == "" {
		req.SetHeader("User-Agent", e.session.UserAgent())
	}
	req.SetHeader(trace.HeaderXRequestID, requestID)
	req.SetHeader(HeaderAuthorization, AuthScheme+token)
	if override {
		req.SetHeader(HeaderMethodOverride, e.method)
	}

	if err := e.writeBody(req, override); err != nil {
		return transient(NewRequestFailureError("failed to write request body", 0, nil, err))
	}

	e.sends++
	e.logSend(wireMethod, override)
	resp, err := req.Send()
	return classify(ctx, resp, err)
}

func (e *Executor) writeBody(req TransportRequest, override bool) error {
	switch {
	case e.body != nil:
		req.SetContentLength(int64(e.body.Len()))
		return writeBody(req, e.body.Bytes())
	case override && e.method == nethttp.MethodDelete:
		// A tunnelled DELETE still needs an explicit empty body
		req.SetContentLength(0)
		return writeBody(req, nil)
	}
	return nil
}

func (e *Executor) followRedirect(ctx context.Context, out outcome, log logger.Logger) error {
	next, parseErr := e.target.Parse(out.location)
	if e.session.StrictRedirect() && e.method != nethttp.MethodGet {
		location := out.location
		if parseErr == nil && location != "" {
			location = next.String()
		}
		return NewRedirectNotAllowedError(e.method, out.statusCode, location)
	}
	if out.location == "" {
		return NewRequestFailureError(fmt.Sprintf("redirect status %d without Location", out.statusCode), out.statusCode, nil, nil)
	}
	if parseErr != nil {
		return NewRequestFailureError("invalid redirect location "+out.location, out.statusCode, nil, parseErr)
	}
	if e.redirects >= e.session.MaxRedirects() {
		return NewTooManyRedirectsError(e.session.MaxRedirects(), next.String())
	}
	e.redirects++
	e.state = StateRedirecting
	e.session.metrics.recordRedirect(ctx, e.method)
	log.Info().
		Int("status", out.statusCode).
		Str("from", e.target.String()).
		Str("to", next.String()).
		Msg("Following redirect")
	e.target = next
	return nil
}

func (e *Executor) releaseBody() {
	if e.body != nil {
		e.body.release()
	}
}

func (e *Executor) logSend(wireMethod string, override bool) {
	ev := e.session.logger.Debug().
		Str("direction", "outbound").
		Str("method", wireMethod).
		Str("url", e.target.String()).
		Int("send", e.sends)
	if override {
		ev = ev.Str("override", e.method)
	}
	if e.body != nil && e.body.Len() > 0 {
		ev = ev.Int("body_bytes", e.body.Len())
	}
	ev.Msg("Sending request")
}

// backoffDelay returns the exponential backoff delay for the given retry,
// using base as the unit and capping at maxBackoff. A non-positive base
// means resend immediately.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// Cap attempt to avoid overflow when computing multiplier
	if attempt > 20 {
		attempt = 20
	}
	d := base * time.Duration(1<<attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	// Full jitter: random duration in [0, d)
	n, err := crand.Int(crand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return d
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
