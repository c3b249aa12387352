package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gaborage/gauth/config"
	"github.com/gaborage/gauth/credential"
	"github.com/gaborage/gauth/gauth"
)

func newLoginCommand(a *app) *cobra.Command {
	var asHeader bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the token",
		Long: `Log in with the configured credentials and print the ClientLogin token.
Any cached token is discarded first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := a.session.Authenticate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asHeader {
				fmt.Fprintf(out, "%s: %s%s\n", gauth.HeaderAuthorization, gauth.AuthScheme, token)
				return nil
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHeader, "header", false, "Print a complete Authorization header")
	return cmd
}

// policyFlags override the configured request policy for one invocation
type policyFlags struct {
	retries        int
	retryDelay     time.Duration
	maxRedirects   int
	strictRedirect bool
	methodOverride bool
}

func (p *policyFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&p.retries, "retries", 0, "Resends after a transient failure")
	fs.DurationVar(&p.retryDelay, "retry-delay", 0, "Base backoff between resends")
	fs.IntVar(&p.maxRedirects, "max-redirects", gauth.DefaultMaxRedirects, "Redirects followed per request")
	fs.BoolVar(&p.strictRedirect, "strict-redirect", false, "Refuse redirects for anything but GET")
	fs.BoolVar(&p.methodOverride, "method-override", false, "Send PUT, DELETE, ... as POST with X-HTTP-Method-Override")
}

// apply sets only the flags given on the command line
func (p *policyFlags) apply(fs *pflag.FlagSet, s *gauth.Session) {
	if fs.Changed("retries") {
		s.SetRetryLimit(p.retries)
	}
	if fs.Changed("retry-delay") {
		s.SetRetryDelay(p.retryDelay)
	}
	if fs.Changed("max-redirects") {
		s.SetMaxRedirects(p.maxRedirects)
	}
	if fs.Changed("strict-redirect") {
		s.SetStrictRedirect(p.strictRedirect)
	}
	if fs.Changed("method-override") {
		s.SetMethodOverride(p.methodOverride)
	}
}

func newDoCommand(a *app) *cobra.Command {
	var (
		policy   policyFlags
		data     string
		dataFile string
		headers  []string
		token    string
		include  bool
	)

	cmd := &cobra.Command{
		Use:   "do METHOD URL",
		Short: "Send an authorized request",
		Long: `Send METHOD to URL with a ClientLogin token, logging in first when no
token is cached. The response body is written to stdout.`,
		Example: `  gauth do GET https://www.google.com/calendar/feeds/default/private/full
  gauth do PUT https://example.com/feeds/entry/1 -d @entry.xml -H 'Content-Type: application/atom+xml'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.HasPrefix(data, "@") && dataFile == "" {
				dataFile, data = strings.TrimPrefix(data, "@"), ""
			}
			body, err := readBody(cmd.InOrStdin(), data, dataFile)
			if err != nil {
				return err
			}
			header, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			policy.apply(cmd.Flags(), a.session)
			if token != "" {
				a.session.SetToken(token)
			}

			exec, err := a.session.NewExecutor(args[0], args[1])
			if err != nil {
				return err
			}
			for name, values := range header {
				for _, v := range values {
					exec.AddHeader(name, v)
				}
			}
			if body != nil {
				w := exec.BodyWriter()
				if _, err := w.Write(body); err != nil {
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			}

			resp, err := exec.Execute(cmd.Context())
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "HTTP %d %s\n", resp.StatusCode, nethttp.StatusText(resp.StatusCode))
				if err := resp.Header.Write(out); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			_, err = io.Copy(out, resp.Body)
			return err
		},
	}

	fs := cmd.Flags()
	policy.register(fs)
	fs.StringVarP(&data, "data", "d", "", "Request body; @file reads it from a file, @- from stdin")
	fs.StringVar(&dataFile, "data-file", "", "Read the request body from a file (- for stdin)")
	fs.StringArrayVarP(&headers, "header", "H", nil, "Extra request header 'Name: value' (repeatable)")
	fs.StringVar(&token, "token", "", "Use this token instead of logging in")
	fs.BoolVarP(&include, "include", "i", false, "Print the status line and response headers")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

// readBody returns nil when no body was given
func readBody(stdin io.Reader, data, dataFile string) ([]byte, error) {
	switch {
	case dataFile == "-":
		return io.ReadAll(stdin)
	case dataFile != "":
		b, err := os.ReadFile(dataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return b, nil
	case data != "":
		return []byte(data), nil
	}
	return nil, nil
}

func parseHeaders(raw []string) (nethttp.Header, error) {
	h := make(nethttp.Header)
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func newKeyringCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the password stored in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := a.keyringSource()
			if err != nil {
				return err
			}
			secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read password: %w", err)
			}
			secret = strings.TrimRight(secret, "\r\n")
			if secret == "" {
				return errors.New("empty password on stdin")
			}
			if err := src.Store(secret); err != nil {
				return err
			}
			a.log.Info().Str("username", src.Username).Msg("Password stored in keyring")
			return nil
		},
	}

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Remove the stored password",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			src, err := a.keyringSource()
			if err != nil {
				return err
			}
			if err := src.Forget(); err != nil {
				return err
			}
			a.session.ClearToken()
			a.log.Info().Str("username", src.Username).Msg("Password removed from keyring")
			return nil
		},
	}

	cmd.AddCommand(set, forget)
	return cmd
}

func (a *app) keyringSource() (credential.KeyringSource, error) {
	username := gauth.KeyringUsername(a.cfg.Login)
	if username == "" {
		return credential.KeyringSource{}, config.NewNotConfiguredError("keyring username", "GAUTH_LOGIN_USERNAME", "login.username")
	}
	return credential.KeyringSource{Service: a.cfg.Login.Keyring.Service, Username: username}, nil
}
