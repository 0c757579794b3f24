package commands

import (
	"fmt"

	"filippo.io/age"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/vault"
)

// publicKeyOf derives the recipient form of a local identity key.
func publicKeyOf(local vault.LocalKey) (string, error) {
	keyStr, err := local.Key.String()
	if err != nil {
		return "", fmt.Errorf("failed to open identity key: %w", err)
	}
	parsed, err := age.ParseX25519Identity(keyStr)
	if err != nil {
		return "", fmt.Errorf("malformed identity key: %w", tverrors.ErrInvalidKey)
	}
	return parsed.Recipient().String(), nil
}

// loadLocked takes the vault lock and loads the config. The caller
// must defer store.Unlock().
func loadLocked(store *vault.Store) (*vault.Config, error) {
	if err := store.Lock(); err != nil {
		return nil, tverrors.Suggest(err)
	}
	cfg, err := store.Load()
	if err != nil {
		store.Unlock()
		return nil, tverrors.Suggest(err)
	}
	return cfg, nil
}
