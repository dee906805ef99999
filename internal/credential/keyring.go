// Package credential keeps secrets in the OS keyring instead of the config
// file.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/rapidworks/expertdesk/internal/model"
)

const serviceName = "expertdesk"

// Keyring keys for the secrets the config file never stores.
const (
	KeyJWTSecret       = "jwt-secret"
	KeySMTPPassword    = "smtp-password"
	KeyS3SecretKey     = "s3-secret-key"
	KeyTeamsWebhookURL = "teams-webhook-url"
)

// Known reports whether key names one of the secrets Fill understands.
func Known(key string) bool {
	switch key {
	case KeyJWTSecret, KeySMTPPassword, KeyS3SecretKey, KeyTeamsWebhookURL:
		return true
	}
	return false
}

// ErrNotFound is returned when the keyring has no item for a key.
var ErrNotFound = keyring.ErrKeyNotFound

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/expertdesk/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("expertdesk-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
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

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Lookup fetches a secret by keyring key.
type Lookup func(key string) (string, error)

// Fill copies secrets from the keyring into cfg for every field the config
// file and environment left empty. Missing items are skipped; any other
// keyring failure is returned after the remaining fields were tried.
func Fill(cfg *model.AppConfig, lookup Lookup) error {
	if lookup == nil {
		lookup = Get
	}

	targets := []struct {
		key   string
		field *string
	}{
		{KeyJWTSecret, &cfg.Auth.JWTSecret},
		{KeySMTPPassword, &cfg.Notify.SMTP.Password},
		{KeyS3SecretKey, &cfg.Attachments.SecretKey},
		{KeyTeamsWebhookURL, &cfg.Notify.TeamsWebhookURL},
	}

	var errs []error
	for _, t := range targets {
		if *t.field != "" {
			continue
		}
		v, err := lookup(t.key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		*t.field = v
	}
	return errors.Join(errs...)
}
