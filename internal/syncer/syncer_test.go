package syncer_test

import (
	"bytes"
	"context"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamvault/teamvault/internal/cipher"
	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/secure"
	"github.com/teamvault/teamvault/internal/syncer"
	"github.com/teamvault/teamvault/internal/team"
	"github.com/teamvault/teamvault/internal/vault"
)

type member struct {
	name      string
	publicKey string
	identity  vault.Identity
}

func newMember(t *testing.T, name string) member {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	return member{
		name:      name,
		publicKey: id.Recipient().String(),
		identity: vault.Identity{
			Name:   name,
			Source: vault.LocalKey{Key: secure.NewKeyBuffer([]byte(id.String()))},
		},
	}
}

func newSyncer() *syncer.Syncer {
	return syncer.New(cipher.NewSuite(nil), logging.NewWithWriter(&bytes.Buffer{}, false, true))
}

// seededVault builds a synced vault whose secrets are encrypted for
// the given members.
func seededVault(t *testing.T, secrets map[string]string, members ...member) *vault.Config {
	t.Helper()

	cfg := &vault.Config{
		Version:    vault.FormatVersion,
		ID:         "4f1c26b0-0000-0000-0000-000000000000",
		Recipients: map[string]string{},
		Secrets:    map[string]string{},
	}
	for _, m := range members {
		cfg.Recipients[m.name] = m.publicKey
	}

	suite := cipher.NewSuite(nil)
	for key, value := range secrets {
		ct, err := suite.Encrypt(context.Background(), []byte(value), cfg.RecipientList())
		require.NoError(t, err)
		cfg.Secrets[key] = ct
	}
	cfg.Fingerprint = cfg.CurrentFingerprint()
	return cfg
}

func decryptAll(t *testing.T, cfg *vault.Config, id vault.Identity) map[string]string {
	t.Helper()
	suite := cipher.NewSuite(nil)
	out := make(map[string]string, len(cfg.Secrets))
	for key, ct := range cfg.Secrets {
		plaintext, err := suite.Decrypt(context.Background(), ct, id)
		require.NoError(t, err, key)
		out[key] = string(plaintext)
	}
	return out
}

func TestSyncNoopWhenFingerprintCurrent(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	cfg := seededVault(t, map[string]string{"DB_URL": "postgres://db"}, alice)
	before := cfg.Secrets["DB_URL"]

	res, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)
	assert.False(t, res.WasNeeded)
	assert.Equal(t, before, cfg.Secrets["DB_URL"], "noop sync must not rewrite ciphertexts")
}

func TestSyncAfterAddGrantsAccess(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	secrets := map[string]string{"DB_URL": "postgres://db", "API_KEY": "k-123456"}
	cfg := seededVault(t, secrets, alice)

	require.NoError(t, team.Add(cfg, bob.name, bob.publicKey))
	require.True(t, cfg.Stale())

	res, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)
	assert.True(t, res.WasNeeded)
	assert.Equal(t, 2, res.Secrets)
	assert.Equal(t, 2, res.Recipients)
	assert.False(t, cfg.Stale())

	assert.Equal(t, secrets, decryptAll(t, cfg, bob.identity))
	assert.Equal(t, secrets, decryptAll(t, cfg, alice.identity))
}

func TestSyncAfterRemoveRevokesAccess(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	cfg := seededVault(t, map[string]string{"TOKEN": "t-9999"}, alice, bob)

	require.NoError(t, team.Remove(cfg, "bob"))
	_, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)

	suite := cipher.NewSuite(nil)
	_, err = suite.Decrypt(context.Background(), cfg.Secrets["TOKEN"], bob.identity)
	assert.ErrorIs(t, err, tverrors.ErrDecryptFailed)
}

func TestSyncIdempotent(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	cfg := seededVault(t, map[string]string{"A": "1"}, alice)
	require.NoError(t, team.Add(cfg, bob.name, bob.publicKey))

	s := newSyncer()
	first, err := s.Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)
	assert.True(t, first.WasNeeded)

	second, err := s.Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)
	assert.False(t, second.WasNeeded)
}

func TestSyncNonRecipientUnauthorized(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	mallory := newMember(t, "mallory")
	cfg := seededVault(t, map[string]string{"A": "1"}, alice)
	cfg.Fingerprint = "stale"

	_, err := newSyncer().Sync(context.Background(), cfg, mallory.identity, syncer.Options{})
	assert.ErrorIs(t, err, tverrors.ErrUnauthorized)
}

func TestSyncAtomicOnDecryptFailure(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	cfg := seededVault(t, map[string]string{"GOOD": "ok", "ALSO_GOOD": "ok2"}, alice)
	cfg.Secrets["BROKEN"] = "v1:age:bm90LXJlYWwtY2lwaGVydGV4dA=="
	require.NoError(t, team.Add(cfg, bob.name, bob.publicKey))

	before := make(map[string]string, len(cfg.Secrets))
	for k, v := range cfg.Secrets {
		before[k] = v
	}

	_, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.ErrorIs(t, err, tverrors.ErrDecryptFailed)

	assert.Equal(t, before, cfg.Secrets, "failed sync must not modify any ciphertext")
	assert.True(t, cfg.Stale(), "failed sync must leave the fingerprint stale")
}

func TestSyncDryRun(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	cfg := seededVault(t, map[string]string{"A": "1"}, alice)
	require.NoError(t, team.Add(cfg, bob.name, bob.publicKey))
	before := cfg.Secrets["A"]

	res, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.WasNeeded)
	assert.Equal(t, 1, res.Secrets)
	assert.Equal(t, before, cfg.Secrets["A"])
	assert.True(t, cfg.Stale())
}

func TestSyncForceRewritesCurrentVault(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	cfg := seededVault(t, map[string]string{"A": "1"}, alice)
	before := cfg.Secrets["A"]

	res, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{Force: true})
	require.NoError(t, err)
	assert.True(t, res.WasNeeded)
	assert.NotEqual(t, before, cfg.Secrets["A"], "force sync produces fresh ciphertext")
	assert.Equal(t, map[string]string{"A": "1"}, decryptAll(t, cfg, alice.identity))
}

func TestSyncEmptyVault(t *testing.T) {
	t.Parallel()

	alice := newMember(t, "alice")
	bob := newMember(t, "bob")
	cfg := seededVault(t, nil, alice)
	require.NoError(t, team.Add(cfg, bob.name, bob.publicKey))

	res, err := newSyncer().Sync(context.Background(), cfg, alice.identity, syncer.Options{})
	require.NoError(t, err)
	assert.True(t, res.WasNeeded)
	assert.Equal(t, 0, res.Secrets)
	assert.False(t, cfg.Stale())
}
