package gauth

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
)

func TestHTTPTransportDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Redirect(w, r, "/elsewhere", nethttp.StatusFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodGet, srv.URL+"/start")
	require.NoError(t, err)

	resp, err := req.Send()
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
	assert.Equal(t, srv.URL+"/start", resp.URL)
}

func TestHTTPTransportSendsBody(t *testing.T) {
	var gotBody string
	var gotLength int64
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLength = r.ContentLength
		w.WriteHeader(nethttp.StatusCreated)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodPut, srv.URL)
	require.NoError(t, err)
	req.SetContentLength(5)
	require.NoError(t, writeBody(req, []byte("hello")))

	resp, err := req.Send()
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, int64(5), gotLength)
}

func TestHTTPTransportEmptyBodyHasZeroLength(t *testing.T) {
	var gotLength int64 = -2
	var gotHeader string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotLength = r.ContentLength
		gotHeader = r.Header.Get(HeaderMethodOverride)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodPost, srv.URL)
	require.NoError(t, err)
	req.SetHeader(HeaderMethodOverride, nethttp.MethodDelete)
	req.SetContentLength(0)
	require.NoError(t, writeBody(req, nil))

	resp, err := req.Send()
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(0), gotLength)
	assert.Equal(t, nethttp.MethodDelete, gotHeader)
}

func TestHTTPTransportContentLengthMismatch(t *testing.T) {
	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodPost, "http://127.0.0.1:1/")
	require.NoError(t, err)
	req.SetContentLength(10)
	require.NoError(t, writeBody(req, []byte("short")))

	_, err = req.Send()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestHTTPTransportSingleSend(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodGet, srv.URL)
	require.NoError(t, err)

	resp, err := req.Send()
	require.NoError(t, err)
	resp.Body.Close()

	_, err = req.Send()
	assert.Error(t, err)
	_, err = req.BodyWriter()
	assert.Error(t, err)
}

func TestHTTPTransportRejectsRelativeURI(t *testing.T) {
	tr := NewHTTPTransport(HTTPTransportOptions{})
	_, err := tr.NewRequest(context.Background(), nethttp.MethodGet, "relative/path")
	assert.Error(t, err)
}

func TestHTTPTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(_ nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{Timeout: 50 * time.Millisecond})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodGet, srv.URL)
	require.NoError(t, err)

	_, err = req.Send()
	assert.Error(t, err)
}

func TestHTTPTransportProxy(t *testing.T) {
	var seen string
	proxy := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		seen = r.RequestURI
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	defer proxy.Close()

	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	tr := NewHTTPTransport(HTTPTransportOptions{Proxy: proxyURL, DisableKeepAlives: true})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodGet, "http://api.example.invalid/feeds")
	require.NoError(t, err)

	resp, err := req.Send()
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://api.example.invalid/feeds", seen)
}

func TestHTTPTransportBackfillsContentLength(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Length", "3")
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	req, err := tr.NewRequest(context.Background(), nethttp.MethodGet, srv.URL)
	require.NoError(t, err)

	resp, err := req.Send()
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "3", resp.Header.Get("Content-Length"))
}

// clientLoginServer is a minimal ClientLogin handler plus a feed that only
// accepts the most recently issued token.
type clientLoginServer struct {
	mu        sync.Mutex
	issued    int
	current   string
	rejectOne bool
	logins    int
	forms     []url.Values
}

func (s *clientLoginServer) handler(t *testing.T) nethttp.Handler {
	mux := nethttp.NewServeMux()
	mux.HandleFunc("POST /accounts/ClientLogin", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, FormContentType, r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())

		s.mu.Lock()
		defer s.mu.Unlock()
		s.logins++
		s.forms = append(s.forms, r.PostForm)
		if r.PostForm.Get("Passwd") != testSecret {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(nethttp.StatusForbidden)
			_, _ = io.WriteString(w, "Error=BadAuthentication\n")
			return
		}
		s.issued++
		s.current = "tok" + strconv.Itoa(s.issued)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "SID=x\r\nLSID=y\r\nAuth="+s.current+"\r\n")
	})
	mux.HandleFunc("/old", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Redirect(w, r, "/feed", nethttp.StatusMovedPermanently)
	})
	mux.HandleFunc("/feed", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		s.mu.Lock()
		reject := s.rejectOne
		s.rejectOne = false
		ok := r.Header.Get(HeaderAuthorization) == AuthScheme+s.current
		s.mu.Unlock()
		if reject || !ok {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "feed for "+r.Header.Get(HeaderMethodOverride))
	})
	return mux
}

func (s *clientLoginServer) snapshot() (logins int, forms []url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins, append([]url.Values(nil), s.forms...)
}

func newHTTPSession(t *testing.T, srv *httptest.Server, secret string) *Session {
	t.Helper()
	s, err := NewBuilder(testService, testApp, logger.NewNop()).
		WithEndpoint(srv.URL+"/accounts/ClientLogin").
		WithCredentials(credential.Static(testUser, secret)).
		WithTimeout(5 * time.Second).
		Build()
	require.NoError(t, err)
	return s
}

func TestHTTPEndToEnd(t *testing.T) {
	backend := &clientLoginServer{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	s := newHTTPSession(t, srv, testSecret)

	resp, err := s.Do(context.Background(), nethttp.MethodGet, srv.URL+"/old", nil, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "feed for ", string(body))
	assert.Equal(t, srv.URL+"/feed", resp.URL)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, "tok1", s.Token())

	_, forms := backend.snapshot()
	require.Len(t, forms, 1)
	form := forms[0]
	assert.Equal(t, testUser, form.Get("Email"))
	assert.Equal(t, testApp, form.Get("source"))
	assert.Equal(t, testService, form.Get("service"))
	assert.Equal(t, DefaultAccountType, form.Get("accountType"))
}

func TestHTTPEndToEndReauthenticates(t *testing.T) {
	backend := &clientLoginServer{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	s := newHTTPSession(t, srv, testSecret)
	s.SetMethodOverride(true)

	_, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	backend.mu.Lock()
	backend.rejectOne = true
	backend.mu.Unlock()

	resp, err := s.Do(context.Background(), nethttp.MethodPut, srv.URL+"/feed", []byte("entry"), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "feed for PUT", string(body))
	assert.Equal(t, "tok2", s.Token())
	logins, _ := backend.snapshot()
	assert.Equal(t, 2, logins)
}

func TestHTTPEndToEndBadPassword(t *testing.T) {
	backend := &clientLoginServer{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	s := newHTTPSession(t, srv, "wrong")

	_, err := s.Do(context.Background(), nethttp.MethodGet, srv.URL+"/feed", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthProtocol)
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusForbidden))
	assert.Contains(t, err.Error(), "BadAuthentication")
	assert.Empty(t, s.Token())
}
