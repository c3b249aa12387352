// Package gauth sends HTTP requests authorized with a Google ClientLogin
// ("GoogleLogin auth=") token.
//
// A Session holds the cached token and the request policy. Executors created
// from it run one request each: they log in when no token is cached, follow
// redirects, re-authenticate once when the server rejects the token, and
// resend transient failures up to the retry limit.
//
// Basic usage:
//
//	session, err := gauth.NewBuilder("cl", "example-app", log).
//		WithCredentials(credential.Static("user@example.com", secret)).
//		WithRetries(2, 0).
//		Build()
//	if err != nil {
//		return err
//	}
//
//	exec, err := session.NewExecutor(http.MethodGet, "https://www.google.com/calendar/feeds/default/private/full")
//	if err != nil {
//		return err
//	}
//	resp, err := exec.Execute(ctx)
//	if err != nil {
//		return err
//	}
//	defer resp.Body.Close()
//
// Request bodies are written to Executor.BodyWriter before Execute and
// replayed on every attempt.
//
// Errors returned by Execute implement ClientError; use errors.Is with the
// Err* sentinels or IsErrorKind to branch on the failure:
//
//	if errors.Is(err, gauth.ErrAuthProtocol) {
//		// wrong password, captcha required, ...
//	}
//
// Only one login runs at a time per session. Concurrent executors that find
// no token wait for that login and share its result.
package gauth
