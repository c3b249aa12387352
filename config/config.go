// Package config loads gauth configuration from defaults, an optional YAML
// file and GAUTH_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read as configuration.
// GAUTH_CLIENT_RETRY_MAX maps to client.retry.max.
const EnvPrefix = "GAUTH_"

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. The YAML file at path, when path is not empty
// 3. Default values (lowest priority)
func Load(path string) (*Config, error) {
	var src koanf.Provider
	if path != "" {
		src = file.Provider(path)
	}
	return load(src, path)
}

// LoadBytes is Load with the YAML document given in memory.
func LoadBytes(data []byte) (*Config, error) {
	return load(rawbytes.Provider(data), "inline yaml")
}

func load(src koanf.Provider, name string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if src != nil {
		if err := k.Load(src, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// GAUTH_CLIENT_RETRY_MAX -> client.retry.max
			key = strings.TrimPrefix(key, EnvPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "gauth",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"login.endpoint":        "https://www.google.com/accounts/ClientLogin",
		"login.service":         "xapi",
		"login.accounttype":     "HOSTED_OR_GOOGLE",
		"login.username":        "",
		"login.keyring.enabled": false,
		"login.keyring.service": "gauth",
		"login.secretenv":       "GAUTH_PASSWORD",

		"client.timeout":         "30s",
		"client.retry.max":       0,
		"client.retry.delay":     "0s",
		"client.redirect.strict": false,
		"client.redirect.max":    10,
		"client.methodoverride":  false,
		"client.proxy":           "",
		"client.keepalive":       true,
		"client.rate.limit":      0,
		"client.rate.burst":      1,

		"log.level":  "info",
		"log.pretty": false,

		"observability.enabled": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
