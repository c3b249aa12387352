package gauth

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
)

const (
	// HeaderAuthorization carries the token on every authorized send
	HeaderAuthorization = "Authorization"
	// HeaderMethodOverride carries the real verb when it is tunnelled via POST
	HeaderMethodOverride = "X-HTTP-Method-Override"
	// AuthScheme prefixes the token in the Authorization header
	AuthScheme = "GoogleLogin auth="

	// FormContentType is the login request content type
	FormContentType = "application/x-www-form-urlencoded"

	// MaxLoginResponseBytes caps the accepted login response body
	MaxLoginResponseBytes = 1024

	authTokenKey = "Auth"
	errorKey     = "Error"
)

// loginContentTypes lists the accepted login response content types
var loginContentTypes = []string{"text/plain", FormContentType}

// TokenExchange performs the ClientLogin handshake: it posts a credential pair
// to the login endpoint and extracts the Auth= token from the reply.
type TokenExchange struct {
	transport   Transport
	endpoint    string
	service     string
	source      string
	accountType string
	userAgent   string
	logger      logger.Logger
	tracer      oteltrace.Tracer
	metrics     *instruments
}

// Acquire logs in with cred and returns the token. It never caches: the
// session decides what to keep.
func (x *TokenExchange) Acquire(ctx context.Context, cred credential.Credential) (token string, err error) {
	ctx, span := x.tracer.Start(ctx, "gauth.Login",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("gauth.service", x.service),
			attribute.String("url.full", x.endpoint),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		x.metrics.recordLogin(ctx, x.service, err)
	}()

	if !cred.Valid() {
		return "", NewInvalidCredentialError("username and secret must both be set", nil)
	}

	req, err := x.transport.NewRequest(ctx, nethttp.MethodPost, x.endpoint)
	if err != nil {
		return "", NewAuthProtocolError("invalid login endpoint "+x.endpoint+": "+err.Error(), 0)
	}

	form := encodeLoginForm(cred, x.source, x.service, x.accountType)
	req.SetHeader("Content-Type", FormContentType)
	req.SetHeader("User-Agent", x.userAgent)
	req.SetContentLength(int64(len(form)))
	if err := writeBody(req, form); err != nil {
		return "", NewAuthTransportError("failed to write login request", err)
	}

	x.logger.Debug().
		Str("endpoint", x.endpoint).
		Str("service", x.service).
		Str("username", cred.Username).
		Msg("Logging in")

	resp, err := req.Send()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", NewCanceledError(ctxErr)
		}
		return "", NewAuthTransportError("login request failed", err)
	}
	if resp.Body == nil {
		resp.Body = nethttp.NoBody
	}
	defer resp.Body.Close()

	token, err = parseLoginResponse(resp)
	if err != nil {
		x.logger.Warn().
			Err(err).
			Str("endpoint", x.endpoint).
			Int("status", resp.StatusCode).
			Msg("Login rejected")
		return "", err
	}

	x.logger.Info().
		Str("service", x.service).
		Str("username", cred.Username).
		Msg("Login succeeded")
	return token, nil
}

// encodeLoginForm renders the fields in the order the endpoint documents
func encodeLoginForm(cred credential.Credential, source, service, accountType string) []byte {
	var b bytes.Buffer
	pairs := [][2]string{
		{"Email", cred.Username},
		{"Passwd", cred.Secret},
		{"source", source},
		{"service", service},
		{"accountType", accountType},
	}
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.Bytes()
}

func writeBody(req TransportRequest, body []byte) error {
	w, err := req.BodyWriter()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// parseLoginResponse validates status, content type and size before looking
// for the token.
func parseLoginResponse(resp *Response) (string, error) {
	if resp.StatusCode != nethttp.StatusOK {
		msg := fmt.Sprintf("login returned status %d", resp.StatusCode)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxLoginResponseBytes))
		if reason := lookupKey(body, errorKey); reason != "" {
			msg += ": " + reason
		}
		return "", NewAuthProtocolError(msg, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !acceptedContentType(contentType) {
		return "", NewAuthProtocolError(fmt.Sprintf("unexpected login content type %q", contentType), resp.StatusCode)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && n > MaxLoginResponseBytes {
			return "", NewAuthProtocolError(fmt.Sprintf("login response of %d bytes exceeds %d", n, MaxLoginResponseBytes), resp.StatusCode)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxLoginResponseBytes+1))
	if err != nil {
		return "", NewAuthProtocolError("failed to read login response: "+err.Error(), resp.StatusCode)
	}
	if len(body) > MaxLoginResponseBytes {
		return "", NewAuthProtocolError(fmt.Sprintf("login response exceeds %d bytes", MaxLoginResponseBytes), resp.StatusCode)
	}

	token := lookupKey(body, authTokenKey)
	if token == "" {
		return "", NewAuthProtocolError("login response has no Auth token", resp.StatusCode)
	}
	return token, nil
}

func acceptedContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, accepted := range loginContentTypes {
		if strings.HasPrefix(ct, accepted) {
			return true
		}
	}
	return false
}

// lookupKey returns the value of the first "key=value" line, or ""
func lookupKey(body []byte, key string) string {
	prefix := key + "="
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if value, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
