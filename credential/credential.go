// Package credential supplies the username/secret pair a session trades for
// a ClientLogin token. Sources are consulted lazily, only when a session has
// no cached token, and credentials are never stored by the session.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned by a Source that has nothing to offer.
var ErrNotFound = errors.New("credential: not found")

// Credential is a ClientLogin account name and password.
type Credential struct {
	Username string
	Secret   string
}

// Valid reports whether both halves are present.
func (c Credential) Valid() bool {
	return c.Username != "" && c.Secret != ""
}

// String never prints the secret.
func (c Credential) String() string {
	if c.Secret == "" {
		return c.Username
	}
	return c.Username + ":***"
}

// Source yields a credential on demand.
type Source interface {
	Credential(ctx context.Context) (Credential, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Credential, error)

// Credential calls f.
func (f SourceFunc) Credential(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Static returns a Source that always yields c.
func Static(username, secret string) Source {
	c := Credential{Username: username, Secret: secret}
	return SourceFunc(func(context.Context) (Credential, error) {
		if !c.Valid() {
			return Credential{}, ErrNotFound
		}
		return c, nil
	})
}

// EnvSource reads the pair from two environment variables. A non-empty
// Username is used as is and UsernameVar is ignored.
type EnvSource struct {
	Username    string
	UsernameVar string
	SecretVar   string
}

// Default variable names used by EnvSource when its fields are empty.
const (
	DefaultUsernameVar = "GAUTH_USERNAME"
	DefaultSecretVar   = "GAUTH_PASSWORD"
)

// Credential implements Source.
func (s EnvSource) Credential(_ context.Context) (Credential, error) {
	userVar, secretVar := s.UsernameVar, s.SecretVar
	if userVar == "" {
		userVar = DefaultUsernameVar
	}
	if secretVar == "" {
		secretVar = DefaultSecretVar
	}
	username := s.Username
	if username == "" {
		username = os.Getenv(userVar)
	}
	c := Credential{Username: username, Secret: os.Getenv(secretVar)}
	if !c.Valid() {
		return Credential{}, fmt.Errorf("%w: %s/%s not set", ErrNotFound, userVar, secretVar)
	}
	return c, nil
}

// Chain tries each source in order and returns the first credential found.
// Errors other than ErrNotFound stop the walk.
type Chain []Source

// Credential implements Source.
func (c Chain) Credential(ctx context.Context) (Credential, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		cred, err := src.Credential(ctx)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credential{}, err
		}
	}
	return Credential{}, ErrNotFound
}
