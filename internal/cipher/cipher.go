// Package cipher turns plaintext secret values into tagged ciphertext
// strings every vault recipient can decrypt, and back. Ciphertexts are
// self-describing: "v1:<scheme>:<base64 payload>", where the scheme
// selects the backend that produced the payload. Adding a scheme means
// registering another backend; readers of older vaults keep working.
package cipher

import (
	"context"
	"fmt"
	"strings"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/metrics"
	"github.com/teamvault/teamvault/internal/vault"
	"github.com/teamvault/teamvault/pkg/kms"
)

// formatVersion is the ciphertext envelope version this build emits.
const formatVersion = "v1"

const (
	// SchemeAge is pure asymmetric encryption to local age recipients.
	SchemeAge = "age"
	// SchemeKMS is envelope encryption with per-recipient wrapped data keys.
	SchemeKMS = "kms"
)

// Backend encrypts to a recipient set and decrypts with one identity.
// Payloads are base64 strings without the scheme tag; the Suite owns
// tagging and dispatch.
type Backend interface {
	Scheme() string
	Encrypt(ctx context.Context, plaintext []byte, recipients []vault.Recipient) (string, error)
	Decrypt(ctx context.Context, payload string, id vault.Identity) ([]byte, error)
}

// KeyKind classifies a recipient public key.
type KeyKind int

const (
	KeyKindUnknown KeyKind = iota
	KeyKindAge
	KeyKindAWS
	KeyKindGCP
)

// ClassifyPublicKey determines what kind of recipient a public key
// denotes. KMS recipients are written "aws-kms:<key ARN>" or
// "gcp-kms:<crypto key resource name>".
func ClassifyPublicKey(key string) (KeyKind, error) {
	switch {
	case strings.HasPrefix(key, "age1"):
		return KeyKindAge, nil
	case strings.HasPrefix(key, "aws-kms:"):
		if strings.TrimPrefix(key, "aws-kms:") == "" {
			return KeyKindUnknown, fmt.Errorf("empty aws-kms key reference: %w", tverrors.ErrInvalidKey)
		}
		return KeyKindAWS, nil
	case strings.HasPrefix(key, "gcp-kms:"):
		if strings.TrimPrefix(key, "gcp-kms:") == "" {
			return KeyKindUnknown, fmt.Errorf("empty gcp-kms key reference: %w", tverrors.ErrInvalidKey)
		}
		return KeyKindGCP, nil
	}
	return KeyKindUnknown, fmt.Errorf("unrecognized public key format: %w", tverrors.ErrInvalidKey)
}

// Suite dispatches encryption and decryption across the registered
// schemes. Encryption picks the scheme from the recipient set: a set of
// only age keys uses the age backend, any KMS reference switches the
// whole secret to envelope encryption so every recipient kind shares
// one ciphertext.
type Suite struct {
	backends map[string]Backend
}

// NewSuite builds a suite over the given KMS backends (keyed by
// provider name, may be empty for local-only vaults).
func NewSuite(kmsBackends map[string]kms.Backend) *Suite {
	s := &Suite{backends: make(map[string]Backend)}
	s.RegisterBackend(&ageBackend{})
	s.RegisterBackend(&envelopeBackend{kms: kmsBackends})
	return s
}

// RegisterBackend adds or replaces a scheme backend.
func (s *Suite) RegisterBackend(b Backend) {
	s.backends[b.Scheme()] = b
}

// Encrypt produces one tagged ciphertext decryptable by every
// recipient. Encrypting to an empty recipient set is an error.
func (s *Suite) Encrypt(ctx context.Context, plaintext []byte, recipients []vault.Recipient) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("cannot encrypt to zero recipients: %w", tverrors.ErrLastRecipient)
	}

	scheme := SchemeAge
	for _, r := range recipients {
		kind, err := ClassifyPublicKey(r.PublicKey)
		if err != nil {
			return "", fmt.Errorf("recipient %s: %w", r.Name, err)
		}
		if kind == KeyKindAWS || kind == KeyKindGCP {
			scheme = SchemeKMS
		}
	}

	payload, err := s.backends[scheme].Encrypt(ctx, plaintext, recipients)
	if err != nil {
		return "", err
	}

	metrics.RecordCipherOp(scheme, "encrypt")
	return formatVersion + ":" + scheme + ":" + payload, nil
}

// Decrypt recovers the plaintext using the given identity. A
// ciphertext whose scheme has no registered backend fails with
// ErrUnsupportedScheme; a valid ciphertext the identity cannot open
// fails with ErrDecryptFailed.
func (s *Suite) Decrypt(ctx context.Context, ciphertext string, id vault.Identity) ([]byte, error) {
	scheme, payload, err := splitCiphertext(ciphertext)
	if err != nil {
		return nil, err
	}

	backend, ok := s.backends[scheme]
	if !ok {
		return nil, fmt.Errorf("ciphertext scheme %q: %w", scheme, tverrors.ErrUnsupportedScheme)
	}

	plaintext, err := backend.Decrypt(ctx, payload, id)
	if err != nil {
		return nil, err
	}

	metrics.RecordCipherOp(scheme, "decrypt")
	return plaintext, nil
}

// splitCiphertext validates the "v1:<scheme>:<payload>" framing.
func splitCiphertext(ciphertext string) (scheme, payload string, err error) {
	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] != formatVersion || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("not a tagged ciphertext: %w", tverrors.ErrUnsupportedScheme)
	}
	return parts[1], parts[2], nil
}
