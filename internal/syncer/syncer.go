// Package syncer re-encrypts a vault's secrets for its current
// recipient set. Membership changes only edit the recipient map; this
// engine closes the gap, decrypting every secret with the caller's
// identity and encrypting it again so each current recipient can read
// it. The rewrite is all or nothing: the config is not touched unless
// every secret converts.
package syncer

import (
	"context"
	"fmt"

	"filippo.io/age"
	"golang.org/x/sync/errgroup"

	"github.com/teamvault/teamvault/internal/cipher"
	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/metrics"
	"github.com/teamvault/teamvault/internal/vault"
)

// decryptParallelism bounds concurrent decrypt/encrypt work. KMS-held
// secrets make network calls per secret, so the bound keeps a large
// vault from opening dozens of connections at once.
const decryptParallelism = 8

// Options controls a sync run.
type Options struct {
	// DryRun computes what would change without mutating the config.
	DryRun bool
	// Force re-encrypts even when the fingerprint is current, used
	// after a suspected key compromise to force fresh ciphertexts.
	Force bool
}

// Result reports what a sync run did.
type Result struct {
	// Secrets is the number of secrets re-encrypted.
	Secrets int
	// Recipients is the size of the recipient set encrypted for.
	Recipients int
	// WasNeeded is false when the fingerprint was already current and
	// nothing was done.
	WasNeeded bool
}

// Syncer runs re-encryption over a cipher suite.
type Syncer struct {
	suite *cipher.Suite
	log   *logging.Logger
}

// New creates a syncer.
func New(suite *cipher.Suite, log *logging.Logger) *Syncer {
	return &Syncer{suite: suite, log: log}
}

// Sync re-encrypts every secret for the config's current recipients
// and updates the stored fingerprint. It is idempotent: when the
// fingerprint already matches, nothing happens and WasNeeded is false.
// The identity must belong to a current recipient.
func (s *Syncer) Sync(ctx context.Context, cfg *vault.Config, id vault.Identity, opts Options) (*Result, error) {
	if !cfg.Stale() && !opts.Force {
		s.log.Debug("fingerprint current, nothing to sync")
		metrics.RecordSync("noop", 0)
		return &Result{WasNeeded: false, Recipients: len(cfg.Recipients)}, nil
	}

	if err := verifyMembership(cfg, id); err != nil {
		metrics.RecordSync("failed", 0)
		return nil, err
	}

	recipients := cfg.RecipientList()
	if len(recipients) == 0 {
		metrics.RecordSync("failed", 0)
		return nil, fmt.Errorf("vault has no recipients: %w", tverrors.ErrLastRecipient)
	}

	keys := cfg.SecretKeys()
	plaintexts := make([][]byte, len(keys))
	defer func() {
		for _, p := range plaintexts {
			for i := range p {
				p[i] = 0
			}
		}
	}()

	// Phase one: decrypt everything. Any failure aborts before a
	// single ciphertext is replaced.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decryptParallelism)
	for i, key := range keys {
		g.Go(func() error {
			plaintext, err := s.suite.Decrypt(gctx, cfg.Secrets[key], id)
			if err != nil {
				return fmt.Errorf("secret %s: %w", key, err)
			}
			plaintexts[i] = plaintext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordSync("failed", 0)
		return nil, err
	}

	// Phase two: encrypt for the current set into a fresh map.
	reencrypted := make([]string, len(keys))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(decryptParallelism)
	for i := range keys {
		g.Go(func() error {
			ct, err := s.suite.Encrypt(gctx, plaintexts[i], recipients)
			if err != nil {
				return fmt.Errorf("secret %s: %w", keys[i], err)
			}
			reencrypted[i] = ct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordSync("failed", 0)
		return nil, err
	}

	result := &Result{
		Secrets:    len(keys),
		Recipients: len(recipients),
		WasNeeded:  true,
	}

	if opts.DryRun {
		s.log.Info("dry run: %d secrets would be re-encrypted for %d recipients", result.Secrets, result.Recipients)
		return result, nil
	}

	newSecrets := make(map[string]string, len(keys))
	for i, key := range keys {
		newSecrets[key] = reencrypted[i]
	}
	cfg.Secrets = newSecrets
	cfg.Fingerprint = cfg.CurrentFingerprint()

	s.log.Info("re-encrypted %d secrets for %d recipients", result.Secrets, result.Recipients)
	metrics.RecordSync("reencrypted", result.Secrets)
	return result, nil
}

// verifyMembership checks that the identity's public half is in the
// current recipient set. Decryption would fail later anyway for a
// non-member, but failing up front gives a precise error before any
// KMS traffic.
func verifyMembership(cfg *vault.Config, id vault.Identity) error {
	pub, err := identityPublicKey(id)
	if err != nil {
		return err
	}
	for _, key := range cfg.Recipients {
		if key == pub {
			return nil
		}
	}
	return fmt.Errorf("identity %s is not a recipient of this vault: %w", id.Name, tverrors.ErrUnauthorized)
}

// identityPublicKey derives the recipient form of an identity.
func identityPublicKey(id vault.Identity) (string, error) {
	switch src := id.Source.(type) {
	case vault.LocalKey:
		keyStr, err := src.Key.String()
		if err != nil {
			return "", fmt.Errorf("failed to open identity key: %w", err)
		}
		parsed, err := age.ParseX25519Identity(keyStr)
		if err != nil {
			return "", fmt.Errorf("malformed identity key: %w", tverrors.ErrInvalidKey)
		}
		return parsed.Recipient().String(), nil
	case vault.KmsKey:
		return src.Provider + "-kms:" + src.KeyRef, nil
	}
	return "", fmt.Errorf("unknown identity source: %w", tverrors.ErrInvalidKey)
}
