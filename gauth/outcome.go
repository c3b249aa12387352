package gauth

import (
	"context"
	"fmt"
	nethttp "net/http"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRedirect
	outcomeForbidden
	outcomeTransient
	outcomeFatal
)

// outcome is the classified result of one send
type outcome struct {
	kind       outcomeKind
	response   *Response
	statusCode int
	location   string
	body       []byte
	err        error
}

func transient(err error) outcome { return outcome{kind: outcomeTransient, err: err} }

func fatal(err error) outcome { return outcome{kind: outcomeFatal, err: err} }

// classify maps a transport result onto the executor's transitions. Every
// response except a success has its body drained and closed here.
func classify(ctx context.Context, resp *Response, err error) outcome {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fatal(NewCanceledError(ctxErr))
		}
		return transient(NewRequestFailureError("send failed", 0, nil, err))
	}

	code := resp.StatusCode
	switch {
	case IsSuccessStatus(code) || code == nethttp.StatusNotModified:
		return outcome{kind: outcomeSuccess, response: resp, statusCode: code}

	case isRedirectStatus(code):
		// Location is validated by the executor after the redirect policy
		location := resp.Header.Get("Location")
		resp.drainAndClose(maxErrorBody)
		return outcome{kind: outcomeRedirect, statusCode: code, location: location}

	case code == nethttp.StatusUnauthorized || code == nethttp.StatusForbidden:
		body := resp.drainAndClose(maxErrorBody)
		return outcome{kind: outcomeForbidden, statusCode: code, body: body}

	default:
		body := resp.drainAndClose(maxErrorBody)
		o := transient(NewRequestFailureError(fmt.Sprintf("request failed with status %d", code), code, body, nil))
		o.statusCode = code
		o.body = body
		return o
	}
}

func isRedirectStatus(code int) bool {
	return code >= 300 && code < 400 && code != nethttp.StatusNotModified
}
