// Package identity resolves the caller's private credential. A local
// identity is an age secret key; it can come from the environment, a
// key file, or the OS keyring, and is held in protected memory from
// the moment it is read. A KMS identity is just a key reference, the
// private half never leaves the cloud provider.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zalando/go-keyring"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/secure"
	"github.com/teamvault/teamvault/internal/vault"
)

const (
	// EnvKey holds an age secret key inline.
	EnvKey = "TEAMVAULT_IDENTITY"
	// EnvKeyFile points at an age key file.
	EnvKeyFile = "TEAMVAULT_IDENTITY_FILE"
	// EnvKmsKey names a KMS credential, e.g. "aws-kms:<key ARN>".
	EnvKmsKey = "TEAMVAULT_KMS_KEY"

	keyringService = "teamvault"
	keyringUser    = "identity"
)

// Loader resolves identities with a fixed precedence: inline env key,
// env key file, env KMS reference, OS keyring, default key file.
type Loader struct {
	log *logging.Logger
}

// NewLoader creates a loader.
func NewLoader(log *logging.Logger) *Loader {
	return &Loader{log: log}
}

// Load resolves the active identity. It fails with ErrUnauthorized
// when no credential is configured anywhere.
func (l *Loader) Load() (vault.Identity, error) {
	if raw := os.Getenv(EnvKey); raw != "" {
		l.log.Debug("using identity from %s", EnvKey)
		return localIdentity("env", raw)
	}

	if path := os.Getenv(EnvKeyFile); path != "" {
		l.log.Debug("using identity file %s", path)
		return l.loadKeyFile(path)
	}

	if ref := os.Getenv(EnvKmsKey); ref != "" {
		l.log.Debug("using KMS identity from %s", EnvKmsKey)
		return kmsIdentity(ref)
	}

	if key, err := keyring.Get(keyringService, keyringUser); err == nil {
		l.log.Debug("using identity from OS keyring")
		return localIdentity("keyring", key)
	}

	path, err := DefaultKeyPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			l.log.Debug("using default identity file %s", path)
			return l.loadKeyFile(path)
		}
	}

	return vault.Identity{}, fmt.Errorf("no identity configured, run 'teamvault init' to generate one: %w", tverrors.ErrUnauthorized)
}

func (l *Loader) loadKeyFile(path string) (vault.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vault.Identity{}, fmt.Errorf("failed to read identity file %s: %w", path, err)
	}
	key, err := extractSecretKey(string(data))
	if err != nil {
		return vault.Identity{}, fmt.Errorf("identity file %s: %w", path, err)
	}
	return localIdentity(filepath.Base(path), key)
}

// localIdentity validates and wraps an age secret key.
func localIdentity(name, key string) (vault.Identity, error) {
	key = strings.TrimSpace(key)
	if _, err := age.ParseX25519Identity(key); err != nil {
		return vault.Identity{}, fmt.Errorf("malformed age secret key: %w", tverrors.ErrInvalidKey)
	}
	return vault.Identity{
		Name:   name,
		Source: vault.LocalKey{Key: secure.NewKeyBuffer([]byte(key))},
	}, nil
}

// kmsIdentity parses a "<provider>-kms:<ref>" credential reference.
func kmsIdentity(ref string) (vault.Identity, error) {
	switch {
	case strings.HasPrefix(ref, "aws-kms:"):
		keyRef := strings.TrimPrefix(ref, "aws-kms:")
		if keyRef == "" {
			return vault.Identity{}, fmt.Errorf("empty aws-kms reference: %w", tverrors.ErrInvalidKey)
		}
		return vault.Identity{Name: "kms", Source: vault.KmsKey{Provider: "aws", KeyRef: keyRef}}, nil
	case strings.HasPrefix(ref, "gcp-kms:"):
		keyRef := strings.TrimPrefix(ref, "gcp-kms:")
		if keyRef == "" {
			return vault.Identity{}, fmt.Errorf("empty gcp-kms reference: %w", tverrors.ErrInvalidKey)
		}
		return vault.Identity{Name: "kms", Source: vault.KmsKey{Provider: "gcp", KeyRef: keyRef}}, nil
	}
	return vault.Identity{}, fmt.Errorf("unrecognized KMS reference %q: %w", ref, tverrors.ErrInvalidKey)
}

// extractSecretKey pulls the AGE-SECRET-KEY line out of a key file,
// tolerating the comment header age-keygen writes.
func extractSecretKey(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			return line, nil
		}
	}
	return "", fmt.Errorf("no AGE-SECRET-KEY line found: %w", tverrors.ErrInvalidKey)
}

// Generate creates a fresh keypair. The secret key goes straight into
// protected memory; the public key is returned for registration as a
// recipient.
func Generate(name string) (vault.Identity, string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return vault.Identity{}, "", fmt.Errorf("failed to generate keypair: %w", err)
	}
	return vault.Identity{
		Name:   name,
		Source: vault.LocalKey{Key: secure.NewKeyBuffer([]byte(id.String()))},
	}, id.Recipient().String(), nil
}

// DefaultKeyPath is where keygen writes and Load falls back to:
// ~/.config/teamvault/identity.txt.
func DefaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "teamvault", "identity.txt"), nil
}

// WriteKeyFile stores an identity's secret key at path with owner-only
// permissions, in age-keygen format.
func WriteKeyFile(path string, id vault.Identity, publicKey string) error {
	local, ok := id.Source.(vault.LocalKey)
	if !ok {
		return fmt.Errorf("identity holds no local key: %w", tverrors.ErrInvalidKey)
	}
	key, err := local.Key.String()
	if err != nil {
		return fmt.Errorf("failed to open identity key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	content := fmt.Sprintf("# public key: %s\n%s\n", publicKey, key)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// StoreKeyring saves an identity's secret key in the OS keyring.
func StoreKeyring(id vault.Identity) error {
	local, ok := id.Source.(vault.LocalKey)
	if !ok {
		return fmt.Errorf("identity holds no local key: %w", tverrors.ErrInvalidKey)
	}
	key, err := local.Key.String()
	if err != nil {
		return fmt.Errorf("failed to open identity key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("failed to store key in OS keyring: %w", err)
	}
	return nil
}
