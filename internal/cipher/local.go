package cipher

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/vault"
)

// ageBackend encrypts directly to x25519 recipients. It is used when
// every recipient holds a local age key.
type ageBackend struct{}

func (*ageBackend) Scheme() string {
	return SchemeAge
}

func (*ageBackend) Encrypt(ctx context.Context, plaintext []byte, recipients []vault.Recipient) (string, error) {
	ageRecipients, err := parseAgeRecipients(recipients)
	if err != nil {
		return "", err
	}

	raw, err := ageEncryptBytes(plaintext, ageRecipients)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (*ageBackend) Decrypt(ctx context.Context, payload string, id vault.Identity) ([]byte, error) {
	local, ok := id.Source.(vault.LocalKey)
	if !ok {
		return nil, fmt.Errorf("identity %s holds no local key for an age ciphertext: %w", id.Name, tverrors.ErrDecryptFailed)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt ciphertext payload: %w", tverrors.ErrDecryptFailed)
	}

	return ageDecrypt(raw, local)
}

// ageDecrypt opens age-encrypted bytes with the identity held in
// protected memory. The identity string exists in ordinary memory only
// for the duration of the call.
func ageDecrypt(raw []byte, local vault.LocalKey) ([]byte, error) {
	keyStr, err := local.Key.String()
	if err != nil {
		return nil, fmt.Errorf("failed to open identity key: %w", err)
	}

	identity, err := age.ParseX25519Identity(keyStr)
	if err != nil {
		return nil, fmt.Errorf("malformed identity key: %w", tverrors.ErrInvalidKey)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("identity does not match any recipient: %w", tverrors.ErrDecryptFailed)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("truncated ciphertext: %w", tverrors.ErrDecryptFailed)
	}
	return plaintext, nil
}

// ageEncryptBytes encrypts raw bytes to the given age recipients,
// shared by the direct scheme and the envelope data-key wrap.
func ageEncryptBytes(data []byte, ageRecipients []age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, ageRecipients...)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// parseAgeRecipients converts the age-keyed subset of recipients,
// rejecting any malformed key with the recipient's name attached.
func parseAgeRecipients(recipients []vault.Recipient) ([]age.Recipient, error) {
	out := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		parsed, err := age.ParseX25519Recipient(r.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("recipient %s has a malformed age key: %w", r.Name, tverrors.ErrInvalidKey)
		}
		out = append(out, parsed)
	}
	return out, nil
}
