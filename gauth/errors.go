package gauth

import (
	"errors"
	"fmt"
)

// ClientError is implemented by every error the session and executors return
// for a classified outcome.
type ClientError interface {
	error
	Kind() ErrorKind
}

// ErrorKind categorizes a failure
type ErrorKind string

const (
	// KindInvalidCredential: no usable username/secret pair
	KindInvalidCredential ErrorKind = "invalid_credential"
	// KindAuthTransport: the login request never produced a response
	KindAuthTransport ErrorKind = "auth_transport"
	// KindAuthProtocol: the login endpoint answered, but not with a token
	KindAuthProtocol ErrorKind = "auth_protocol"
	// KindRedirectNotAllowed: strict redirect policy refused a non-GET redirect
	KindRedirectNotAllowed ErrorKind = "redirect_not_allowed"
	// KindTooManyRedirects: the redirect chain exceeded the session limit
	KindTooManyRedirects ErrorKind = "too_many_redirects"
	// KindRequestFailure: transport error or unsuccessful status, retried up to the limit
	KindRequestFailure ErrorKind = "request_failure"
	// KindForbiddenRetryExhausted: still forbidden after one forced re-authentication
	KindForbiddenRetryExhausted ErrorKind = "forbidden_retry_exhausted"
	// KindCanceled: the caller's context ended the call
	KindCanceled ErrorKind = "canceled"
	// KindValidation: the request could not be built (bad target, bad verb)
	KindValidation ErrorKind = "validation"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidCredential       = &Error{kind: KindInvalidCredential}
	ErrAuthTransport           = &Error{kind: KindAuthTransport}
	ErrAuthProtocol            = &Error{kind: KindAuthProtocol}
	ErrRedirectNotAllowed      = &Error{kind: KindRedirectNotAllowed}
	ErrTooManyRedirects        = &Error{kind: KindTooManyRedirects}
	ErrRequestFailure          = &Error{kind: KindRequestFailure}
	ErrForbiddenRetryExhausted = &Error{kind: KindForbiddenRetryExhausted}
	ErrCanceled                = &Error{kind: KindCanceled}
	ErrValidation              = &Error{kind: KindValidation}
)

// Misuse errors
var (
	// ErrAlreadyExecuted is returned by a second Execute on the same Executor
	ErrAlreadyExecuted = errors.New("gauth: executor already executed")
	// ErrBodyReleased is returned by writes to a body whose executor has finished
	ErrBodyReleased = errors.New("gauth: request body already released")
)

// maxErrorBody bounds the response bytes kept on an Error for diagnostics
const maxErrorBody = 4096

// Error is the concrete ClientError.
type Error struct {
	kind       ErrorKind
	message    string
	statusCode int
	location   string
	body       []byte
	wrapped    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gauth %s: %s", e.kind, e.message)
	if e.statusCode != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.statusCode)
	}
	if e.location != "" {
		msg += fmt.Sprintf(" (location: %s)", e.location)
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

// Kind returns the error category
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// StatusCode is the HTTP status that caused the error, or 0
func (e *Error) StatusCode() int {
	return e.statusCode
}

// Location is the redirect target for redirect errors
func (e *Error) Location() string {
	return e.location
}

// Body holds up to 4 KiB of the failed response body
func (e *Error) Body() []byte {
	return e.body
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches sentinels by kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.message == "" && t.kind == e.kind
}

func newError(kind ErrorKind, message string, wrapped error) *Error {
	return &Error{kind: kind, message: message, wrapped: wrapped}
}

// NewInvalidCredentialError reports a missing or incomplete credential pair
func NewInvalidCredentialError(message string, wrapped error) *Error {
	return newError(KindInvalidCredential, message, wrapped)
}

// NewAuthTransportError reports a login request that failed on the wire
func NewAuthTransportError(message string, wrapped error) *Error {
	return newError(KindAuthTransport, message, wrapped)
}

// NewAuthProtocolError reports a login response that could not be accepted
func NewAuthProtocolError(message string, statusCode int) *Error {
	e := newError(KindAuthProtocol, message, nil)
	e.statusCode = statusCode
	return e
}

// NewRedirectNotAllowedError reports a redirect refused by strict policy
func NewRedirectNotAllowedError(method string, statusCode int, location string) *Error {
	e := newError(KindRedirectNotAllowed, "redirect not followed for "+method, nil)
	e.statusCode = statusCode
	e.location = location
	return e
}

// NewTooManyRedirectsError reports a redirect chain longer than limit
func NewTooManyRedirectsError(limit int, location string) *Error {
	e := newError(KindTooManyRedirects, fmt.Sprintf("stopped after %d redirects", limit), nil)
	e.location = location
	return e
}

// NewRequestFailureError reports a send that failed on the wire (statusCode 0)
// or returned an unsuccessful status.
func NewRequestFailureError(message string, statusCode int, body []byte, wrapped error) *Error {
	e := newError(KindRequestFailure, message, wrapped)
	e.statusCode = statusCode
	e.body = body
	return e
}

// NewForbiddenRetryExhaustedError reports a second authorization failure
func NewForbiddenRetryExhaustedError(statusCode int, body []byte) *Error {
	e := newError(KindForbiddenRetryExhausted, "request rejected again after re-authentication", nil)
	e.statusCode = statusCode
	e.body = body
	return e
}

// NewCanceledError wraps the context error that stopped a call
func NewCanceledError(wrapped error) *Error {
	return newError(KindCanceled, "call canceled", wrapped)
}

// NewValidationError reports a request that cannot be sent as given
func NewValidationError(message string, wrapped error) *Error {
	return newError(KindValidation, message, wrapped)
}

// IsErrorKind checks if err is a ClientError of the given kind
func IsErrorKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Kind() == kind
	}
	return false
}

// IsAuthError reports whether err came from the token exchange
func IsAuthError(err error) bool {
	return IsErrorKind(err, KindInvalidCredential) ||
		IsErrorKind(err, KindAuthTransport) ||
		IsErrorKind(err, KindAuthProtocol)
}

// IsHTTPStatusError checks if err carries the given HTTP status
func IsHTTPStatusError(err error, statusCode int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.statusCode == statusCode
	}
	return false
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
