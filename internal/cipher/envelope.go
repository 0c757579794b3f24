package cipher

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/vault"
	"github.com/teamvault/teamvault/pkg/kms"
)

const (
	dataKeySize = 32
	nonceSize   = 24
)

// envelope is the serialized form of an envelope-encrypted secret: the
// symmetric ciphertext plus one wrapped copy of the data key per
// credential kind that can open it. Local recipients share a single
// age-encrypted entry; each KMS key reference gets its own.
type envelope struct {
	WrappedKeys []wrappedKey `json:"wrapped_keys"`
	Nonce       []byte       `json:"nonce"`
	Ciphertext  []byte       `json:"ciphertext"`
}

type wrappedKey struct {
	Provider string `json:"provider"`
	KeyRef   string `json:"key_ref,omitempty"`
	Wrapped  []byte `json:"wrapped"`
}

// envelopeBackend implements envelope encryption for recipient sets
// that include cloud KMS keys. A fresh data key encrypts the plaintext
// symmetrically, then the data key is wrapped once per KMS key and once
// for all age recipients together.
type envelopeBackend struct {
	kms map[string]kms.Backend
}

func (*envelopeBackend) Scheme() string {
	return SchemeKMS
}

func (b *envelopeBackend) Encrypt(ctx context.Context, plaintext []byte, recipients []vault.Recipient) (string, error) {
	ageSet, kmsSet, err := splitRecipients(recipients)
	if err != nil {
		return "", err
	}

	var dataKey [dataKeySize]byte
	if _, err := rand.Read(dataKey[:]); err != nil {
		return "", fmt.Errorf("failed to generate data key: %w", err)
	}
	defer zero(dataKey[:])

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := envelope{
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, plaintext, &nonce, &dataKey),
	}

	if len(ageSet) > 0 {
		ageRecipients, err := parseAgeRecipients(ageSet)
		if err != nil {
			return "", err
		}
		wrapped, err := ageEncryptBytes(dataKey[:], ageRecipients)
		if err != nil {
			return "", err
		}
		env.WrappedKeys = append(env.WrappedKeys, wrappedKey{Provider: SchemeAge, Wrapped: wrapped})
	}

	for _, ref := range kmsSet {
		backend, ok := b.kms[ref.provider]
		if !ok {
			return "", fmt.Errorf("no %s KMS backend configured for recipient %s: %w", ref.provider, ref.name, tverrors.ErrKmsUnavailable)
		}
		wrapped, err := backend.Wrap(ctx, dataKey[:], ref.keyRef)
		if err != nil {
			return "", fmt.Errorf("failed to wrap data key for %s: %w", ref.name, err)
		}
		env.WrappedKeys = append(env.WrappedKeys, wrappedKey{Provider: ref.provider, KeyRef: ref.keyRef, Wrapped: wrapped})
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (b *envelopeBackend) Decrypt(ctx context.Context, payload string, id vault.Identity) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt ciphertext payload: %w", tverrors.ErrDecryptFailed)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("corrupt envelope: %w", tverrors.ErrDecryptFailed)
	}
	if len(env.Nonce) != nonceSize {
		return nil, fmt.Errorf("corrupt envelope nonce: %w", tverrors.ErrDecryptFailed)
	}

	dataKey, err := b.unwrapDataKey(ctx, env, id)
	if err != nil {
		return nil, err
	}
	defer zero(dataKey)

	if len(dataKey) != dataKeySize {
		return nil, fmt.Errorf("wrapped data key has wrong size: %w", tverrors.ErrDecryptFailed)
	}

	var key [dataKeySize]byte
	copy(key[:], dataKey)
	defer zero(key[:])
	var nonce [nonceSize]byte
	copy(nonce[:], env.Nonce)

	plaintext, ok := secretbox.Open(nil, env.Ciphertext, &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("symmetric decryption failed: %w", tverrors.ErrDecryptFailed)
	}
	return plaintext, nil
}

// unwrapDataKey recovers the data key using whichever wrapped entry
// matches the identity's credential.
func (b *envelopeBackend) unwrapDataKey(ctx context.Context, env envelope, id vault.Identity) ([]byte, error) {
	switch src := id.Source.(type) {
	case vault.LocalKey:
		for _, wk := range env.WrappedKeys {
			if wk.Provider == SchemeAge {
				return ageDecrypt(wk.Wrapped, src)
			}
		}
		return nil, fmt.Errorf("envelope holds no local-key entry: %w", tverrors.ErrDecryptFailed)

	case vault.KmsKey:
		backend, ok := b.kms[src.Provider]
		if !ok {
			return nil, fmt.Errorf("no %s KMS backend configured: %w", src.Provider, tverrors.ErrKmsUnavailable)
		}
		for _, wk := range env.WrappedKeys {
			if wk.Provider == src.Provider && wk.KeyRef == src.KeyRef {
				return backend.Unwrap(ctx, wk.Wrapped, src.KeyRef)
			}
		}
		return nil, fmt.Errorf("envelope holds no entry for %s key %s: %w", src.Provider, src.KeyRef, tverrors.ErrDecryptFailed)
	}
	return nil, fmt.Errorf("unknown identity source: %w", tverrors.ErrDecryptFailed)
}

// kmsRef is a KMS recipient reduced to its provider and key reference.
type kmsRef struct {
	name     string
	provider string
	keyRef   string
}

// splitRecipients partitions a recipient set into age recipients and
// deduplicated KMS key references.
func splitRecipients(recipients []vault.Recipient) ([]vault.Recipient, []kmsRef, error) {
	var ageSet []vault.Recipient
	var kmsSet []kmsRef
	seen := make(map[string]bool)

	for _, r := range recipients {
		kind, err := ClassifyPublicKey(r.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("recipient %s: %w", r.Name, err)
		}
		switch kind {
		case KeyKindAge:
			ageSet = append(ageSet, r)
		case KeyKindAWS:
			ref := strings.TrimPrefix(r.PublicKey, "aws-kms:")
			if !seen["aws\x00"+ref] {
				seen["aws\x00"+ref] = true
				kmsSet = append(kmsSet, kmsRef{name: r.Name, provider: "aws", keyRef: ref})
			}
		case KeyKindGCP:
			ref := strings.TrimPrefix(r.PublicKey, "gcp-kms:")
			if !seen["gcp\x00"+ref] {
				seen["gcp\x00"+ref] = true
				kmsSet = append(kmsSet, kmsRef{name: r.Name, provider: "gcp", keyRef: ref})
			}
		}
	}
	return ageSet, kmsSet, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
