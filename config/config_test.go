package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultEndpoint = "https://www.google.com/accounts/ClientLogin"
	testEndpoint    = "https://login.example.com/accounts/ClientLogin"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "gauth", cfg.App.Name)
	assert.Equal(t, "v1.0.0", cfg.App.Version)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)

	assert.Equal(t, defaultEndpoint, cfg.Login.Endpoint)
	assert.Equal(t, "xapi", cfg.Login.Service)
	assert.Equal(t, "HOSTED_OR_GOOGLE", cfg.Login.AccountType)
	assert.Empty(t, cfg.Login.Username)
	assert.False(t, cfg.Login.Keyring.Enabled)
	assert.Equal(t, "gauth", cfg.Login.Keyring.Service)
	assert.Equal(t, "GAUTH_PASSWORD", cfg.Login.SecretEnv)

	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 0, cfg.Client.Retry.Max)
	assert.Equal(t, time.Duration(0), cfg.Client.Retry.Delay)
	assert.False(t, cfg.Client.Redirect.Strict)
	assert.Equal(t, 10, cfg.Client.Redirect.Max)
	assert.False(t, cfg.Client.MethodOverride)
	assert.True(t, cfg.Client.KeepAlive)
	assert.Empty(t, cfg.Client.Proxy)
	assert.Zero(t, cfg.Client.Rate.Limit)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.False(t, cfg.Observability.Enabled)

	assert.NotNil(t, cfg.Koanf())
}

func TestLoadBytes(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
app:
  name: calendar-sync
login:
  endpoint: ` + testEndpoint + `
  service: cl
  username: user@example.com
client:
  timeout: 5s
  retry:
    max: 3
    delay: 250ms
  redirect:
    strict: true
    max: 2
  methodoverride: true
  proxy: http://proxy.internal:3128
  keepalive: false
  rate:
    limit: 2.5
    burst: 4
log:
  level: debug
  pretty: true
observability:
  enabled: true
  service:
    name: calendar-sync
custom:
  flag: on
`))
	require.NoError(t, err)

	assert.Equal(t, "calendar-sync", cfg.App.Name)
	assert.Equal(t, testEndpoint, cfg.Login.Endpoint)
	assert.Equal(t, "cl", cfg.Login.Service)
	assert.Equal(t, "user@example.com", cfg.Login.Username)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 3, cfg.Client.Retry.Max)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Retry.Delay)
	assert.True(t, cfg.Client.Redirect.Strict)
	assert.Equal(t, 2, cfg.Client.Redirect.Max)
	assert.True(t, cfg.Client.MethodOverride)
	assert.Equal(t, "http://proxy.internal:3128", cfg.Client.Proxy)
	assert.False(t, cfg.Client.KeepAlive)
	assert.InDelta(t, 2.5, cfg.Client.Rate.Limit, 0.001)
	assert.Equal(t, 4, cfg.Client.Rate.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.True(t, cfg.Observability.Enabled)
	assert.Equal(t, "calendar-sync", cfg.Observability.Service.Name)

	assert.Equal(t, "on", cfg.String("custom.flag"))
	assert.Empty(t, cfg.String("custom.missing"))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("login:\n  service: cp\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cp", cfg.Login.Service)
	assert.Equal(t, defaultEndpoint, cfg.Login.Endpoint)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GAUTH_LOGIN_SERVICE", "writely")
	t.Setenv("GAUTH_CLIENT_RETRY_MAX", "5")
	t.Setenv("GAUTH_CLIENT_RETRY_DELAY", "1s")
	t.Setenv("GAUTH_CLIENT_REDIRECT_STRICT", "true")
	t.Setenv("GAUTH_LOG_LEVEL", "warn")

	cfg, err := LoadBytes([]byte("login:\n  service: cl\n"))
	require.NoError(t, err)

	assert.Equal(t, "writely", cfg.Login.Service, "environment wins over yaml")
	assert.Equal(t, 5, cfg.Client.Retry.Max)
	assert.Equal(t, time.Second, cfg.Client.Retry.Delay)
	assert.True(t, cfg.Client.Redirect.Strict)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		category string
		field    string
	}{
		{
			name:     "negative retries",
			yaml:     "client:\n  retry:\n    max: -1\n",
			category: "invalid",
			field:    "client.retry.max",
		},
		{
			name:     "bad environment",
			yaml:     "app:\n  env: qa\n",
			category: "invalid",
			field:    "app.env",
		},
		{
			name:     "relative endpoint",
			yaml:     "login:\n  endpoint: accounts/ClientLogin\n",
			category: "invalid",
			field:    "login.endpoint",
		},
		{
			name:     "empty service",
			yaml:     "login:\n  service: \"\"\n",
			category: "missing",
			field:    "login.service",
		},
		{
			name:     "zero timeout",
			yaml:     "client:\n  timeout: 0s\n",
			category: "invalid",
			field:    "client.timeout",
		},
		{
			name:     "bad log level",
			yaml:     "log:\n  level: verbose\n",
			category: "invalid",
			field:    "log.level",
		},
		{
			name:     "keyring without service",
			yaml:     "login:\n  keyring:\n    enabled: true\n    service: \"\"\n",
			category: "missing",
			field:    "login.keyring.service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.category, cfgErr.Category)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestMissingFieldErrorNamesEnvVar(t *testing.T) {
	_, err := LoadBytes([]byte("login:\n  service: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GAUTH_LOGIN_SERVICE")
}

func TestValidateNil(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_invalid")
}
