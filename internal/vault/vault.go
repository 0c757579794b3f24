// Package vault defines the persisted vault aggregate and its derived
// projections. The Config (recipients + secrets) is the only persisted
// state; everything else in the system is computed from it per command
// invocation.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/secure"
)

// FormatVersion is the vault file format version this build reads and writes.
const FormatVersion = "1"

// Config is the persisted vault aggregate: the recipient set and the
// encrypted secrets, plus the fingerprint of the recipient set the
// secrets were last encrypted for.
type Config struct {
	Version     string            `yaml:"version"`
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Fingerprint string            `yaml:"fingerprint,omitempty"`
	Recipients  map[string]string `yaml:"recipients"`
	Secrets     map[string]string `yaml:"secrets,omitempty"`
}

// Recipient is a named member holding a public key permitted to
// decrypt vault secrets.
type Recipient struct {
	Name      string
	PublicKey string
}

// VaultInfo is a read-only projection of one vault for listings.
// HasAccess is derived by attempting a trial decrypt with the active
// identity.
type VaultInfo struct {
	Name           string
	Path           string
	SecretCount    int
	RecipientCount int
	HasAccess      bool
}

// IdentitySource is the closed set of private credential kinds.
type IdentitySource interface {
	isIdentitySource()
}

// LocalKey is a local asymmetric private key held in protected memory.
type LocalKey struct {
	Key *secure.KeyBuffer
}

func (LocalKey) isIdentitySource() {}

// KmsKey references a cloud KMS key the caller can unwrap with.
type KmsKey struct {
	Provider string // "aws" or "gcp"
	KeyRef   string
}

func (KmsKey) isIdentitySource() {}

// Identity is a private credential able to decrypt. It exists only in
// memory during a session and is passed explicitly into every
// operation that needs decryption.
type Identity struct {
	Name   string
	Source IdentitySource
}

var secretKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateSecretKey checks that key is environment-variable shaped.
func ValidateSecretKey(key string) error {
	if !secretKeyPattern.MatchString(key) {
		return fmt.Errorf("secret key %q: %w", key, tverrors.ErrMalformedInput)
	}
	return nil
}

// RecipientList returns the recipients sorted by name.
func (c *Config) RecipientList() []Recipient {
	names := make([]string, 0, len(c.Recipients))
	for name := range c.Recipients {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Recipient, 0, len(names))
	for _, name := range names {
		out = append(out, Recipient{Name: name, PublicKey: c.Recipients[name]})
	}
	return out
}

// PublicKeys returns the recipient public keys sorted lexicographically.
func (c *Config) PublicKeys() []string {
	keys := make([]string, 0, len(c.Recipients))
	for _, k := range c.Recipients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SecretKeys returns the secret names sorted lexicographically.
func (c *Config) SecretKeys() []string {
	keys := make([]string, 0, len(c.Secrets))
	for k := range c.Secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecipientFingerprint is a deterministic digest of a public-key set,
// used to detect whether re-encryption is required. The keys are
// sorted before hashing so map order never leaks into the result.
func RecipientFingerprint(publicKeys []string) string {
	sorted := make([]string, len(publicKeys))
	copy(sorted, publicKeys)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(h[:])
}

// CurrentFingerprint returns the fingerprint of the config's present
// recipient set, which may differ from the stored Fingerprint if a
// sync is pending.
func (c *Config) CurrentFingerprint() string {
	return RecipientFingerprint(c.PublicKeys())
}

// Stale reports whether the stored fingerprint no longer matches the
// recipient set, i.e. a sync is required.
func (c *Config) Stale() bool {
	return c.Fingerprint != c.CurrentFingerprint()
}
