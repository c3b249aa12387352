package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service name secrets are filed under.
const DefaultKeyringService = "gauth"

// KeyringSource pairs a fixed username with a secret held in the system
// keychain (macOS Keychain, Secret Service, Windows Credential Manager).
type KeyringSource struct {
	Service  string
	Username string
}

// Credential implements Source.
func (k KeyringSource) Credential(_ context.Context) (Credential, error) {
	if k.Username == "" {
		return Credential{}, fmt.Errorf("%w: keyring username not configured", ErrNotFound)
	}
	secret, err := keyring.Get(k.service(), k.Username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credential{}, fmt.Errorf("%w: no keyring entry for %s", ErrNotFound, k.Username)
		}
		return Credential{}, fmt.Errorf("credential: keyring lookup: %w", err)
	}
	return Credential{Username: k.Username, Secret: secret}, nil
}

// Store saves secret for the source's username.
func (k KeyringSource) Store(secret string) error {
	if k.Username == "" {
		return errors.New("credential: keyring username not configured")
	}
	if err := keyring.Set(k.service(), k.Username, secret); err != nil {
		return fmt.Errorf("credential: keyring store: %w", err)
	}
	return nil
}

// Forget removes the stored secret. A missing entry is not an error.
func (k KeyringSource) Forget() error {
	if err := keyring.Delete(k.service(), k.Username); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("credential: keyring delete: %w", err)
	}
	return nil
}

func (k KeyringSource) service() string {
	if k.Service == "" {
		return DefaultKeyringService
	}
	return k.Service
}
