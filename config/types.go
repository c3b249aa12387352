package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/gauth/observability"
)

// Config represents the overall configuration of the gauth CLI and of
// sessions built from it. The koanf instance it was loaded from stays
// reachable for keys not modelled in the struct.
type Config struct {
	App           AppConfig            `koanf:"app" json:"app" yaml:"app"`
	Login         LoginConfig          `koanf:"login" json:"login" yaml:"login"`
	Client        ClientConfig         `koanf:"client" json:"client" yaml:"client"`
	Log           LogConfig            `koanf:"log" json:"log" yaml:"log"`
	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability" validate:"-"`

	k *koanf.Koanf `json:"-" yaml:"-"`
}

// AppConfig identifies the calling application. Name is sent as the login
// "source" field and prefixes the User-Agent.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" validate:"required"`
	Env     string `koanf:"env" json:"env" yaml:"env" validate:"oneof=development staging production"`
}

// LoginConfig describes the ClientLogin exchange.
type LoginConfig struct {
	Endpoint    string `koanf:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required,url"`
	Service     string `koanf:"service" json:"service" yaml:"service" validate:"required"`
	AccountType string `koanf:"accounttype" json:"accounttype" yaml:"accounttype" validate:"required"`

	// Username may be left empty when it comes from the environment.
	Username string        `koanf:"username" json:"username" yaml:"username"`
	Keyring  KeyringConfig `koanf:"keyring" json:"keyring" yaml:"keyring"`

	// SecretEnv names the environment variable holding the password.
	SecretEnv string `koanf:"secretenv" json:"secretenv" yaml:"secretenv"`
}

// KeyringConfig selects the OS keychain entry holding the password.
type KeyringConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Service string `koanf:"service" json:"service" yaml:"service" validate:"required_if=Enabled true"`
}

// ClientConfig holds the request policy and transport settings.
type ClientConfig struct {
	Timeout        time.Duration  `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0s"`
	Retry          RetryConfig    `koanf:"retry" json:"retry" yaml:"retry"`
	Redirect       RedirectConfig `koanf:"redirect" json:"redirect" yaml:"redirect"`
	MethodOverride bool           `koanf:"methodoverride" json:"methodoverride" yaml:"methodoverride"`
	Proxy          string         `koanf:"proxy" json:"proxy" yaml:"proxy" validate:"omitempty,url"`
	KeepAlive      bool           `koanf:"keepalive" json:"keepalive" yaml:"keepalive"`
	Rate           RateConfig     `koanf:"rate" json:"rate" yaml:"rate"`
}

// RetryConfig: Max resends after a transient failure, Delay is the backoff base.
type RetryConfig struct {
	Max   int           `koanf:"max" json:"max" yaml:"max" validate:"min=0"`
	Delay time.Duration `koanf:"delay" json:"delay" yaml:"delay" validate:"min=0s"`
}

// RedirectConfig controls redirect handling.
type RedirectConfig struct {
	Strict bool `koanf:"strict" json:"strict" yaml:"strict"`
	Max    int  `koanf:"max" json:"max" yaml:"max" validate:"min=0"`
}

// RateConfig throttles sends; a zero limit disables throttling.
type RateConfig struct {
	Limit float64 `koanf:"limit" json:"limit" yaml:"limit" validate:"min=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// Koanf returns the underlying koanf instance, or nil for a hand-built Config.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}

// String returns a raw string value by dotted key, "" when absent.
func (c *Config) String(key string) string {
	if c.k == nil {
		return ""
	}
	return c.k.String(key)
}
