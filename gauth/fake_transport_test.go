package gauth

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
)

const (
	testEndpoint = "https://login.example.com/accounts/ClientLogin"
	testTarget   = "https://api.example.com/feeds/default"
	testService  = "cl"
	testApp      = "test-app"
	testUser     = "user@example.com"
	testSecret   = "p&ss"
)

// fakeRequest records what the session wrote for one send
type fakeRequest struct {
	Method        string
	URI           string
	Header        nethttp.Header
	ContentLength int64
	BodyOpened    bool
	BodyClosed    bool
	body          bytes.Buffer
	transport     *fakeTransport
}

func (r *fakeRequest) SetHeader(name, value string) { r.Header.Set(name, value) }

func (r *fakeRequest) SetContentLength(n int64) { r.ContentLength = n }

func (r *fakeRequest) BodyWriter() (io.WriteCloser, error) {
	r.BodyOpened = true
	return fakeBody{r}, nil
}

func (r *fakeRequest) Send() (*Response, error) {
	return r.transport.dispatch(r)
}

// Body returns what was written to the request body
func (r *fakeRequest) Body() string { return r.body.String() }

// IsLogin reports whether the request targets the login endpoint
func (r *fakeRequest) IsLogin() bool { return r.URI == testEndpoint }

type fakeBody struct{ r *fakeRequest }

func (b fakeBody) Write(p []byte) (int, error) { return b.r.body.Write(p) }

func (b fakeBody) Close() error {
	b.r.BodyClosed = true
	return nil
}

// fakeTransport routes every send to a scripted handler and keeps a log
type fakeTransport struct {
	mu       sync.Mutex
	requests []*fakeRequest
	handler  func(r *fakeRequest) (*Response, error)
}

func newFakeTransport(handler func(r *fakeRequest) (*Response, error)) *fakeTransport {
	return &fakeTransport{handler: handler}
}

func (t *fakeTransport) NewRequest(_ context.Context, method, uri string) (TransportRequest, error) {
	if !strings.HasPrefix(uri, "http") {
		return nil, errors.New("bad uri")
	}
	return &fakeRequest{
		Method:        method,
		URI:           uri,
		Header:        make(nethttp.Header),
		ContentLength: -1,
		transport:     t,
	}, nil
}

func (t *fakeTransport) dispatch(r *fakeRequest) (*Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, r)
	t.mu.Unlock()
	return t.handler(r)
}

// Requests returns sends in order, logins included
func (t *fakeTransport) Requests() []*fakeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeRequest(nil), t.requests...)
}

// Logins returns the login sends
func (t *fakeTransport) Logins() []*fakeRequest {
	var out []*fakeRequest
	for _, r := range t.Requests() {
		if r.IsLogin() {
			out = append(out, r)
		}
	}
	return out
}

// Calls returns the non-login sends
func (t *fakeTransport) Calls() []*fakeRequest {
	var out []*fakeRequest
	for _, r := range t.Requests() {
		if !r.IsLogin() {
			out = append(out, r)
		}
	}
	return out
}

func respond(status int, header nethttp.Header, body string) *Response {
	if header == nil {
		header = make(nethttp.Header)
	}
	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func loginOK(token string) *Response {
	return respond(nethttp.StatusOK,
		nethttp.Header{"Content-Type": {"text/plain"}},
		"SID=sid\nLSID=lsid\nAuth="+token+"\n")
}

func redirectTo(status int, location string) *Response {
	return respond(status, nethttp.Header{"Location": {location}}, "")
}

// tokenSequence hands out T1, T2, ... on successive logins
type tokenSequence struct {
	mu sync.Mutex
	n  int
}

func (s *tokenSequence) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "T" + strconv.Itoa(s.n)
}

func newTestSession(t *testing.T, transport Transport, configure ...func(*Builder)) *Session {
	t.Helper()
	b := NewBuilder(testService, testApp, logger.NewNop()).
		WithTransport(transport).
		WithEndpoint(testEndpoint).
		WithCredentials(credential.Static(testUser, testSecret))
	for _, c := range configure {
		c(b)
	}
	s, err := b.Build()
	require.NoError(t, err)
	return s
}
