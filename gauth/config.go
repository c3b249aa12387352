package gauth

import (
	"net/url"
	"os"

	"golang.org/x/time/rate"

	"github.com/gaborage/gauth/config"
	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/logger"
)

// NewSessionFromConfig builds a session from loaded configuration. opts run
// after the configuration is applied, so they can override any of it.
func NewSessionFromConfig(cfg *config.Config, log logger.Logger, opts ...func(*Builder)) (*Session, error) {
	if cfg == nil {
		return nil, NewValidationError("config is nil", nil)
	}

	b := NewBuilder(cfg.Login.Service, cfg.App.Name, log).
		WithEndpoint(cfg.Login.Endpoint).
		WithAccountType(cfg.Login.AccountType).
		WithCredentials(CredentialsFromConfig(cfg.Login)).
		WithTimeout(cfg.Client.Timeout).
		WithKeepAlive(cfg.Client.KeepAlive).
		WithRetries(cfg.Client.Retry.Max, cfg.Client.Retry.Delay).
		WithStrictRedirect(cfg.Client.Redirect.Strict).
		WithMaxRedirects(cfg.Client.Redirect.Max).
		WithMethodOverride(cfg.Client.MethodOverride).
		WithRateLimit(rate.Limit(cfg.Client.Rate.Limit), cfg.Client.Rate.Burst)

	if cfg.Client.Proxy != "" {
		proxy, err := url.Parse(cfg.Client.Proxy)
		if err != nil {
			return nil, NewValidationError("invalid proxy URL", err)
		}
		b.WithProxy(proxy)
	}

	for _, opt := range opts {
		opt(b)
	}
	return b.Build()
}

// CredentialsFromConfig returns the credential chain described by cfg: the
// secret environment variable first, then the OS keyring when enabled.
func CredentialsFromConfig(cfg config.LoginConfig) credential.Source {
	chain := credential.Chain{
		credential.EnvSource{Username: cfg.Username, SecretVar: cfg.SecretEnv},
	}
	if cfg.Keyring.Enabled {
		chain = append(chain, credential.KeyringSource{
			Service:  cfg.Keyring.Service,
			Username: KeyringUsername(cfg),
		})
	}
	return chain
}

// KeyringUsername is the account the keyring entry is filed under: the
// configured username, or GAUTH_USERNAME.
func KeyringUsername(cfg config.LoginConfig) string {
	if cfg.Username != "" {
		return cfg.Username
	}
	return os.Getenv(credential.DefaultUsernameVar)
}
