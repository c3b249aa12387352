package gauth

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
)

const (
	// DefaultEndpoint is the ClientLogin handler used when none is configured
	DefaultEndpoint = "https://www.google.com/accounts/ClientLogin"

	// DefaultAccountType is sent as accountType on every login
	DefaultAccountType = "HOSTED_OR_GOOGLE"

	// DefaultMaxRetries is the default retry limit: no retries
	DefaultMaxRetries = 0

	// DefaultMaxRedirects caps redirect chains
	DefaultMaxRedirects = 10

	// UserAgentSuffix identifies this library in the User-Agent header
	UserAgentSuffix = "GDataGAuth-Go/1.0.0"

	instrumentationName = "github.com/gaborage/gauth"
	tokenFlightKey      = "token"
)

// Session is the long-lived factory executors are created from. It holds the
// cached ClientLogin token and the request policy.
//
// Policy fields are read by executors at each decision point rather than
// captured at creation, so a setter called while requests are in flight
// changes how those requests retry and redirect. This is shared mutable
// state; callers that need a fixed policy per call should not mutate the
// session concurrently.
type Session struct {
	transport   Transport
	credentials credential.Source
	logger      logger.Logger
	tracer      oteltrace.Tracer
	metrics     *instruments

	mu              sync.RWMutex
	service         string
	applicationName string
	endpoint        string
	accountType     string

	retryLimit     atomic.Int64
	retryDelay     atomic.Int64
	maxRedirects   atomic.Int64
	strictRedirect atomic.Bool
	methodOverride atomic.Bool
	limiter        atomic.Pointer[rate.Limiter]

	tokenMu sync.RWMutex
	token   string
	sfg     singleflight.Group
}

// sessionConfig collects Builder settings
type sessionConfig struct {
	service         string
	applicationName string
	endpoint        string
	accountType     string
	transport       Transport
	transportOpts   HTTPTransportOptions
	credentials     credential.Source
	maxRetries      int
	retryDelay      time.Duration
	maxRedirects    int
	strictRedirect  bool
	methodOverride  bool
	rateLimit       rate.Limit
	rateBurst       int
	tracerProvider  oteltrace.TracerProvider
	meterProvider   metric.MeterProvider
}

// Builder provides a fluent interface for configuring a Session
type Builder struct {
	config *sessionConfig
	logger logger.Logger
}

// NewBuilder starts a session for the given ClientLogin service name (for
// example "cl" for Calendar) and calling application name.
func NewBuilder(service, applicationName string, log logger.Logger) *Builder {
	return &Builder{
		config: &sessionConfig{
			service:         service,
			applicationName: applicationName,
			accountType:     DefaultAccountType,
			maxRetries:      DefaultMaxRetries,
			maxRedirects:    DefaultMaxRedirects,
			transportOpts:   HTTPTransportOptions{Timeout: DefaultTimeout},
		},
		logger: log,
	}
}

// WithTransport replaces the net/http transport. Proxy, keep-alive and
// timeout settings are ignored when a transport is supplied.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.config.transport = t
	return b
}

// WithTimeout sets the per-send timeout of the default transport
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.transportOpts.Timeout = timeout
	return b
}

// WithProxy routes the default transport through proxy
func (b *Builder) WithProxy(proxy *url.URL) *Builder {
	b.config.transportOpts.Proxy = proxy
	return b
}

// WithKeepAlive toggles connection reuse on the default transport
func (b *Builder) WithKeepAlive(enabled bool) *Builder {
	b.config.transportOpts.DisableKeepAlives = !enabled
	return b
}

// WithCredentials sets where login credentials come from
func (b *Builder) WithCredentials(src credential.Source) *Builder {
	b.config.credentials = src
	return b
}

// WithEndpoint overrides the login handler URI
func (b *Builder) WithEndpoint(endpoint string) *Builder {
	b.config.endpoint = endpoint
	return b
}

// WithAccountType overrides the accountType login field
func (b *Builder) WithAccountType(accountType string) *Builder {
	b.config.accountType = accountType
	return b
}

// WithRetries sets how many times a failed send is repeated and the base
// delay between repeats (zero resends immediately)
func (b *Builder) WithRetries(maxRetries int, retryDelay time.Duration) *Builder {
	b.config.maxRetries = maxRetries
	b.config.retryDelay = retryDelay
	return b
}

// WithStrictRedirect refuses redirects for anything but GET
func (b *Builder) WithStrictRedirect(strict bool) *Builder {
	b.config.strictRedirect = strict
	return b
}

// WithMethodOverride sends verbs other than GET and POST as POST with an
// X-HTTP-Method-Override header
func (b *Builder) WithMethodOverride(enabled bool) *Builder {
	b.config.methodOverride = enabled
	return b
}

// WithMaxRedirects caps redirect chains per call
func (b *Builder) WithMaxRedirects(limit int) *Builder {
	b.config.maxRedirects = limit
	return b
}

// WithRateLimit throttles sends across all executors of the session.
// A limit of zero disables throttling.
func (b *Builder) WithRateLimit(limit rate.Limit, burst int) *Builder {
	b.config.rateLimit = limit
	b.config.rateBurst = burst
	return b
}

// WithTracerProvider sets the tracer provider; the otel global otherwise
func (b *Builder) WithTracerProvider(tp oteltrace.TracerProvider) *Builder {
	b.config.tracerProvider = tp
	return b
}

// WithMeterProvider sets the meter provider; the otel global otherwise
func (b *Builder) WithMeterProvider(mp metric.MeterProvider) *Builder {
	b.config.meterProvider = mp
	return b
}

// Build validates the settings and creates the Session
func (b *Builder) Build() (*Session, error) {
	cfg := b.config
	if cfg.maxRetries < 0 {
		return nil, NewValidationError(fmt.Sprintf("retry limit must not be negative, got %d", cfg.maxRetries), nil)
	}
	if cfg.maxRedirects < 0 {
		return nil, NewValidationError(fmt.Sprintf("redirect limit must not be negative, got %d", cfg.maxRedirects), nil)
	}
	if err := validateEndpoint(cfg.endpoint); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = logger.NewNop()
	}
	tp := cfg.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	transport := cfg.transport
	if transport == nil {
		opts := cfg.transportOpts
		opts.TracerProvider = tp
		opts.MeterProvider = mp
		transport = NewHTTPTransport(opts)
	}

	metrics, err := newInstruments(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	s := &Session{
		transport:       transport,
		credentials:     cfg.credentials,
		logger:          log,
		tracer:          tp.Tracer(instrumentationName),
		metrics:         metrics,
		service:         cfg.service,
		applicationName: cfg.applicationName,
		endpoint:        cfg.endpoint,
		accountType:     cfg.accountType,
	}
	s.retryLimit.Store(int64(cfg.maxRetries))
	s.retryDelay.Store(int64(cfg.retryDelay))
	s.maxRedirects.Store(int64(cfg.maxRedirects))
	s.strictRedirect.Store(cfg.strictRedirect)
	s.methodOverride.Store(cfg.methodOverride)
	s.SetRateLimit(cfg.rateLimit, cfg.rateBurst)
	return s, nil
}

// NewSession creates a session with default policy and the net/http transport
func NewSession(service, applicationName string, log logger.Logger) (*Session, error) {
	return NewBuilder(service, applicationName, log).Build()
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return NewValidationError("invalid login endpoint", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError(fmt.Sprintf("login endpoint must be an absolute http(s) URI, got %q", endpoint), nil)
	}
	return nil
}

// Service returns the ClientLogin service name
func (s *Session) Service() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

// SetService changes the service name used by future logins
func (s *Session) SetService(service string) {
	s.mu.Lock()
	s.service = service
	s.mu.Unlock()
}

// ApplicationName returns the source name sent on login
func (s *Session) ApplicationName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applicationName
}

// SetApplicationName changes the source name and User-Agent prefix
func (s *Session) SetApplicationName(name string) {
	s.mu.Lock()
	s.applicationName = name
	s.mu.Unlock()
}

// Endpoint returns the login handler URI, DefaultEndpoint when unset
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endpoint == "" {
		return DefaultEndpoint
	}
	return s.endpoint
}

// SetEndpoint overrides the login handler URI. An empty string restores
// DefaultEndpoint.
func (s *Session) SetEndpoint(endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	return nil
}

// AccountType returns the accountType login field
func (s *Session) AccountType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountType
}

// UserAgent is "<application name> GDataGAuth-Go/1.0.0"
func (s *Session) UserAgent() string {
	if name := s.ApplicationName(); name != "" {
		return name + " " + UserAgentSuffix
	}
	return UserAgentSuffix
}

// RetryLimit returns how often a failed send is repeated
func (s *Session) RetryLimit() int {
	return int(s.retryLimit.Load())
}

// SetRetryLimit changes the retry limit; negative values are stored as 0
func (s *Session) SetRetryLimit(n int) {
	s.retryLimit.Store(int64(max(n, 0)))
}

// RetryDelay returns the base backoff between retries
func (s *Session) RetryDelay() time.Duration {
	return time.Duration(s.retryDelay.Load())
}

// SetRetryDelay changes the base backoff between retries
func (s *Session) SetRetryDelay(d time.Duration) {
	s.retryDelay.Store(int64(max(d, 0)))
}

// MaxRedirects returns the redirect cap per call
func (s *Session) MaxRedirects() int {
	return int(s.maxRedirects.Load())
}

// SetMaxRedirects changes the redirect cap; negative values are stored as 0
func (s *Session) SetMaxRedirects(n int) {
	s.maxRedirects.Store(int64(max(n, 0)))
}

// StrictRedirect reports whether non-GET redirects are refused
func (s *Session) StrictRedirect() bool {
	return s.strictRedirect.Load()
}

// SetStrictRedirect toggles strict redirect handling
func (s *Session) SetStrictRedirect(strict bool) {
	s.strictRedirect.Store(strict)
}

// MethodOverride reports whether non-GET/POST verbs are tunnelled via POST
func (s *Session) MethodOverride() bool {
	return s.methodOverride.Load()
}

// SetMethodOverride toggles method override
func (s *Session) SetMethodOverride(enabled bool) {
	s.methodOverride.Store(enabled)
}

// SetRateLimit throttles sends to limit per second with the given burst.
// A limit of zero or less removes throttling.
func (s *Session) SetRateLimit(limit rate.Limit, burst int) {
	if limit <= 0 {
		s.limiter.Store(nil)
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter.Store(rate.NewLimiter(limit, burst))
}

// waitForSend blocks until the rate limiter admits one more send
func (s *Session) waitForSend(ctx context.Context) error {
	l := s.limiter.Load()
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Token returns the cached token, or "" when none is cached
func (s *Session) Token() string {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.token
}

// SetToken seeds the cache with a token obtained elsewhere
func (s *Session) SetToken(token string) {
	s.tokenMu.Lock()
	s.token = token
	s.tokenMu.Unlock()
}

// ClearToken drops the cached token; the next send logs in again
func (s *Session) ClearToken() {
	s.SetToken("")
}

// invalidateToken clears the cache only if it still holds stale, so a
// rejection of an old token never discards a newer one.
func (s *Session) invalidateToken(stale string) bool {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token != stale {
		return false
	}
	s.token = ""
	return true
}

// Exchange returns a TokenExchange bound to the session's current endpoint,
// service and application name.
func (s *Session) Exchange() *TokenExchange {
	return &TokenExchange{
		transport:   s.transport,
		endpoint:    s.Endpoint(),
		service:     s.Service(),
		source:      s.ApplicationName(),
		accountType: s.AccountType(),
		userAgent:   s.UserAgent(),
		logger:      s.logger,
		tracer:      s.tracer,
		metrics:     s.metrics,
	}
}

// Authenticate discards any cached token and logs in with the session's
// credential source.
func (s *Session) Authenticate(ctx context.Context) (string, error) {
	prev := s.Token()
	s.ClearToken()
	return s.acquireToken(ctx, nil, prev)
}

// acquireToken returns the cached token or performs one login shared by all
// concurrent callers logging in with the same credential. override replaces
// the session credential source. stale is a token the caller already saw
// rejected; it is never returned.
func (s *Session) acquireToken(ctx context.Context, override *credential.Credential, stale string) (string, error) {
	if tok := s.Token(); tok != "" && tok != stale {
		return tok, nil
	}

	key := tokenFlightKey
	var src credential.Source
	if override != nil {
		key = tokenFlightKey + "/" + override.Username
		src = credential.Static(override.Username, override.Secret)
	}

	for {
		tok, err := s.awaitLogin(ctx, key, src)
		if err != nil || stale == "" || tok != stale {
			return tok, err
		}
		// Joined a flight that cached the token before it was rejected
		stale = ""
	}
}

func (s *Session) awaitLogin(ctx context.Context, key string, src credential.Source) (string, error) {
	// The login runs detached from the first caller's cancellation so that
	// one canceled waiter does not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.sfg.DoChan(key, func() (any, error) {
		if tok := s.Token(); tok != "" {
			return tok, nil
		}
		cred, err := s.resolveCredential(flightCtx, src)
		if err != nil {
			return "", err
		}
		tok, err := s.Exchange().Acquire(flightCtx, cred)
		if err != nil {
			return "", err
		}
		s.SetToken(tok)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", NewCanceledError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Session) resolveCredential(ctx context.Context, src credential.Source) (credential.Credential, error) {
	if src == nil {
		src = s.credentials
	}
	if src == nil {
		return credential.Credential{}, NewInvalidCredentialError("no credential source configured", nil)
	}
	cred, err := src.Credential(ctx)
	if err != nil {
		return credential.Credential{}, NewInvalidCredentialError("credential unavailable", err)
	}
	if !cred.Valid() {
		return credential.Credential{}, NewInvalidCredentialError("username and secret must both be set", nil)
	}
	return cred, nil
}

// NewExecutor creates a single-use executor for method on target
func (s *Session) NewExecutor(method, target string) (*Executor, error) {
	return newExecutor(s, method, target)
}

// Do is a one-shot helper: it creates an executor, buffers body, copies
// header and executes.
func (s *Session) Do(ctx context.Context, method, target string, body []byte, header nethttp.Header) (*Response, error) {
	e, err := s.NewExecutor(method, target)
	if err != nil {
		return nil, err
	}
	for name, values := range header {
		for _, v := range values {
			e.AddHeader(name, v)
		}
	}
	if body != nil {
		if _, err := e.BodyWriter().Write(body); err != nil {
			return nil, err
		}
	}
	return e.Execute(ctx)
}
