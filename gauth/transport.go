package gauth

import (
	"context"
	"io"
	nethttp "net/http"
)

// Transport is the HTTP primitive the session drives. It must not follow
// redirects on its own: 3xx responses are returned to the executor, which
// decides whether to follow them and re-attaches the Authorization header.
type Transport interface {
	NewRequest(ctx context.Context, method, uri string) (TransportRequest, error)
}

// TransportRequest is one outgoing HTTP request. Headers and body must be
// set before Send; Send may be called at most once.
type TransportRequest interface {
	SetHeader(name, value string)
	// SetContentLength declares the body length. A negative value means unknown.
	SetContentLength(n int64)
	// BodyWriter returns the stream the request body is written to. Closing it
	// marks the body complete.
	BodyWriter() (io.WriteCloser, error)
	Send() (*Response, error)
}

// Response is what a transport returns and what Execute hands to the caller
// on success. The caller owns Body and must close it.
type Response struct {
	StatusCode int
	Header     nethttp.Header
	Body       io.ReadCloser
	// URL is the target that produced this response, after any redirects
	URL string
	// Attempts counts sends made by the executor, including redirects and
	// the re-authenticated resend
	Attempts int
}

// drainAndClose reads at most limit bytes of the body for diagnostics and
// closes it.
func (r *Response) drainAndClose(limit int64) []byte {
	if r == nil || r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(r.Body, limit))
	return b
}
