package main

import (
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gaborage/gauth/config"
	"github.com/gaborage/gauth/gauth"
	"github.com/gaborage/gauth/logger"
	"github.com/gaborage/gauth/observability"
)

// Exit codes
const (
	exitFailure = 1
	exitConfig  = 2
	exitAuth    = 3
)

// app holds what the root command builds before any subcommand runs
type app struct {
	configPath string
	logLevel   string
	pretty     bool

	// sessionOpts run after the configuration is applied
	sessionOpts []func(*gauth.Builder)

	cfg      *config.Config
	log      logger.Logger
	provider observability.Provider
	session  *gauth.Session
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gauth",
		Short: "ClientLogin authentication and authorized requests",
		Long: `gauth trades a username and password for a ClientLogin token and sends
requests carrying it. Rejected tokens are refreshed once, redirects are
followed explicitly and failed sends are retried up to the configured limit.

Credentials come from GAUTH_USERNAME / GAUTH_PASSWORD or, when enabled,
from the OS keyring (see 'gauth keyring set').`,
		Version:           version + " (" + commit + ")",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&a.configPath, "config", "c", "", "Path to YAML config file")
	fs.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&a.pretty, "pretty", false, "Human readable log output")

	cmd.AddCommand(
		newLoginCommand(a),
		newDoCommand(a),
		newKeyringCommand(a),
	)
	return cmd
}

// init loads configuration and builds the logger, telemetry and session
func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = a.pretty
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log, cmd.ErrOrStderr())

	obs := cfg.Observability
	if obs.Service.Name == "" {
		obs.Service.Name = cfg.App.Name
	}
	if obs.Service.Version == "" {
		obs.Service.Version = cfg.App.Version
	}
	if obs.Environment == "" {
		obs.Environment = cfg.App.Env
	}
	provider, err := observability.NewProvider(&obs)
	if err != nil {
		return err
	}
	a.provider = provider

	opts := append([]func(*gauth.Builder){
		func(b *gauth.Builder) {
			b.WithTracerProvider(provider.TracerProvider()).
				WithMeterProvider(provider.MeterProvider())
		},
	}, a.sessionOpts...)
	session, err := gauth.NewSessionFromConfig(cfg, a.log, opts...)
	if err != nil {
		return err
	}
	a.session = session

	a.log.Debug().
		Str("endpoint", session.Endpoint()).
		Str("service", session.Service()).
		Int("retries", session.RetryLimit()).
		Msg("Session ready")
	return nil
}

// close flushes telemetry; safe to call when init never ran
func (a *app) close() {
	if a.provider == nil {
		return
	}
	if err := observability.Shutdown(a.provider, observability.DefaultShutdownTimeout); err != nil && a.log != nil {
		a.log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// newLogger writes to w so that stdout carries only command output
func newLogger(cfg config.LogConfig, w io.Writer) logger.Logger {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return logger.NewWithWriter(w, cfg.Level)
}

func exitCode(err error) int {
	var cfgErr *config.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case gauth.IsAuthError(err):
		return exitAuth
	default:
		return exitFailure
	}
}
