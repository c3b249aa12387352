package gauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single send, login included
	DefaultTimeout = 30 * time.Second
)

// HTTPTransportOptions configures NewHTTPTransport. The zero value is usable.
type HTTPTransportOptions struct {
	// Timeout per send; DefaultTimeout when zero
	Timeout time.Duration
	// Proxy routes every request through this URL when set
	Proxy *url.URL
	// DisableKeepAlives closes the connection after each request
	DisableKeepAlives bool
	// Base replaces the default RoundTripper; Proxy and DisableKeepAlives
	// are ignored when it is set
	Base nethttp.RoundTripper
	// TracerProvider and MeterProvider instrument the RoundTripper; the otel
	// globals are used when nil
	TracerProvider oteltrace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// HTTPTransport is the net/http backed Transport.
type HTTPTransport struct {
	client *nethttp.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport that never follows redirects.
func NewHTTPTransport(opts HTTPTransportOptions) *HTTPTransport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := opts.Base
	if base == nil {
		t := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
		if opts.Proxy != nil {
			t.Proxy = nethttp.ProxyURL(opts.Proxy)
		}
		t.DisableKeepAlives = opts.DisableKeepAlives
		base = t
	}

	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return &HTTPTransport{
		client: &nethttp.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base, otelOpts...),
			CheckRedirect: func(*nethttp.Request, []*nethttp.Request) error {
				return nethttp.ErrUseLastResponse
			},
		},
	}
}

// NewRequest implements Transport
func (t *HTTPTransport) NewRequest(ctx context.Context, method, uri string) (TransportRequest, error) {
	if _, err := url.ParseRequestURI(uri); err != nil {
		return nil, fmt.Errorf("invalid request URI %q: %w", uri, err)
	}
	return &httpRequest{
		ctx:           ctx,
		client:        t.client,
		method:        method,
		uri:           uri,
		header:        make(nethttp.Header),
		contentLength: -1,
	}, nil
}

type httpRequest struct {
	ctx           context.Context
	client        *nethttp.Client
	method        string
	uri           string
	header        nethttp.Header
	body          *bodyBuffer
	contentLength int64
	sent          bool
}

func (r *httpRequest) SetHeader(name, value string) {
	r.header.Set(name, value)
}

func (r *httpRequest) SetContentLength(n int64) {
	r.contentLength = n
}

func (r *httpRequest) BodyWriter() (io.WriteCloser, error) {
	if r.sent {
		return nil, errors.New("request already sent")
	}
	if r.body == nil {
		r.body = &bodyBuffer{}
	}
	return r.body, nil
}

func (r *httpRequest) Send() (*Response, error) {
	if r.sent {
		return nil, errors.New("request already sent")
	}
	r.sent = true

	var body io.Reader
	length := int64(0)
	if r.body != nil {
		b := r.body.Bytes()
		length = int64(len(b))
		if length > 0 {
			body = bytes.NewReader(b)
		} else {
			body = nethttp.NoBody
		}
	}

	req, err := nethttp.NewRequestWithContext(r.ctx, r.method, r.uri, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.header
	if r.body != nil {
		req.ContentLength = length
		if r.contentLength >= 0 && r.contentLength != length {
			return nil, fmt.Errorf("content length %d does not match body of %d bytes", r.contentLength, length)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength >= 0 && resp.Header.Get("Content-Length") == "" {
		resp.Header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		URL:        r.uri,
	}, nil
}

// bodyBuffer is an in-memory request body that refuses writes once closed
// or released.
type bodyBuffer struct {
	buf      bytes.Buffer
	closed   bool
	released bool
}

func (b *bodyBuffer) Write(p []byte) (int, error) {
	if b.released {
		return 0, ErrBodyReleased
	}
	if b.closed {
		return 0, errors.New("write to closed request body")
	}
	return b.buf.Write(p)
}

func (b *bodyBuffer) Close() error {
	b.closed = true
	return nil
}

func (b *bodyBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *bodyBuffer) Len() int {
	return b.buf.Len()
}

// release drops the buffered bytes; later writes fail with ErrBodyReleased
func (b *bodyBuffer) release() {
	b.released = true
	b.buf = bytes.Buffer{}
}
