// Package credential reads pipeline secrets from the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
)

const serviceName = "mailvault"

const (
	KeyIMAPPassword = "imap_password"
	KeySMTPPassword = "smtp_password"
	KeyMasterKey    = "master_key"
)

// Keys lists the secrets that may live in the keyring.
var Keys = []string{KeyIMAPPassword, KeySMTPPassword, KeyMasterKey}

var openKeyring = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailvault/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailvault-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a secret by key.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret by key.
func Set(key, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailvault " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a secret by key.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Apply fills the secret fields of cfg from the keyring when cfg asks for
// it. Secrets missing from the keyring keep their configured value.
func Apply(cfg *config.Config) error {
	if cfg.SecretsSource != config.SecretsKeyring {
		return nil
	}

	ring, err := openKeyring()
	if err != nil {
		return err
	}

	targets := map[string]*string{
		KeyIMAPPassword: &cfg.IMAPPassword,
		KeySMTPPassword: &cfg.SMTPPassword,
		KeyMasterKey:    &cfg.MasterKeyHex,
	}

	for _, key := range Keys {
		item, err := ring.Get(key)
		if errors.Is(err, keyring.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("getting credential %q: %w", key, err)
		}
		*targets[key] = string(item.Data)
	}

	return nil
}
