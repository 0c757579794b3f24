// Package team manages the vault's recipient registry. Membership
// changes mutate only the recipient map; they never touch stored
// ciphertexts, so every change leaves the vault fingerprint stale until
// a sync re-encrypts the secrets for the new set.
package team

import (
	"fmt"

	"filippo.io/age"

	"github.com/teamvault/teamvault/internal/cipher"
	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/vault"
)

// ValidateRecipientKey checks that a public key is one of the accepted
// forms: a parseable age x25519 recipient, or a non-empty aws-kms: /
// gcp-kms: key reference.
func ValidateRecipientKey(publicKey string) error {
	kind, err := cipher.ClassifyPublicKey(publicKey)
	if err != nil {
		return err
	}
	if kind == cipher.KeyKindAge {
		if _, err := age.ParseX25519Recipient(publicKey); err != nil {
			return fmt.Errorf("malformed age public key: %w", tverrors.ErrInvalidKey)
		}
	}
	return nil
}

// Add registers a new recipient. The name must be unused and the key
// well-formed. The same public key MAY appear under several names; the
// audit engine flags that, but membership does not forbid it.
func Add(cfg *vault.Config, name, publicKey string) error {
	if name == "" {
		return fmt.Errorf("recipient name must not be empty: %w", tverrors.ErrMalformedInput)
	}
	if _, exists := cfg.Recipients[name]; exists {
		return fmt.Errorf("recipient %q already exists: %w", name, tverrors.ErrDuplicateName)
	}
	if err := ValidateRecipientKey(publicKey); err != nil {
		return err
	}

	if cfg.Recipients == nil {
		cfg.Recipients = make(map[string]string)
	}
	cfg.Recipients[name] = publicKey
	return nil
}

// Remove drops a recipient by name. Removing the last recipient is
// refused: a vault nobody can decrypt is unrecoverable.
func Remove(cfg *vault.Config, name string) error {
	if _, exists := cfg.Recipients[name]; !exists {
		return fmt.Errorf("recipient %q: %w", name, tverrors.ErrNotFound)
	}
	if len(cfg.Recipients) == 1 {
		return fmt.Errorf("cannot remove %q, it is the only recipient: %w", name, tverrors.ErrLastRecipient)
	}

	delete(cfg.Recipients, name)
	return nil
}

// List returns the recipients sorted by name.
func List(cfg *vault.Config) []vault.Recipient {
	return cfg.RecipientList()
}

// Rotate replaces the public key of an existing recipient, used when a
// member rotates their keypair. Like Add and Remove it leaves the
// stored secrets encrypted for the old key set until the next sync.
func Rotate(cfg *vault.Config, name, newPublicKey string) error {
	if _, exists := cfg.Recipients[name]; !exists {
		return fmt.Errorf("recipient %q: %w", name, tverrors.ErrNotFound)
	}
	if err := ValidateRecipientKey(newPublicKey); err != nil {
		return err
	}

	cfg.Recipients[name] = newPublicKey
	return nil
}
