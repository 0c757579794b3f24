package team_test

import (
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/team"
	"github.com/teamvault/teamvault/internal/vault"
)

func agePublicKey(t *testing.T) string {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	return id.Recipient().String()
}

func testConfig(t *testing.T) *vault.Config {
	t.Helper()
	cfg := &vault.Config{
		Version:    vault.FormatVersion,
		ID:         "e7b7c3c8-0000-0000-0000-000000000000",
		Recipients: map[string]string{"alice": agePublicKey(t)},
	}
	cfg.Fingerprint = cfg.CurrentFingerprint()
	return cfg
}

func TestAddRecipient(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, team.Add(cfg, "bob", agePublicKey(t)))
	assert.Len(t, cfg.Recipients, 2)
	assert.True(t, cfg.Stale(), "membership change must leave the fingerprint stale")
}

func TestAddDuplicateName(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	err := team.Add(cfg, "alice", agePublicKey(t))
	assert.ErrorIs(t, err, tverrors.ErrDuplicateName)
	assert.Len(t, cfg.Recipients, 1)
}

func TestAddDuplicateKeyAllowed(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, team.Add(cfg, "alice-laptop", cfg.Recipients["alice"]))
	assert.Len(t, cfg.Recipients, 2)
}

func TestAddInvalidKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, key := range []string{"", "age1tooshort", "ssh-ed25519 AAAA", "aws-kms:"} {
		err := team.Add(cfg, "bob", key)
		assert.ErrorIs(t, err, tverrors.ErrInvalidKey, key)
	}
	assert.Len(t, cfg.Recipients, 1)
}

func TestAddKmsRecipients(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, team.Add(cfg, "ci", "aws-kms:arn:aws:kms:us-east-1:123456789012:key/ci"))
	require.NoError(t, team.Add(cfg, "deploy", "gcp-kms:projects/p/locations/l/keyRings/r/cryptoKeys/k"))
	assert.Len(t, cfg.Recipients, 3)
}

func TestAddEmptyName(t *testing.T) {
	t.Parallel()

	err := team.Add(testConfig(t), "", agePublicKey(t))
	assert.ErrorIs(t, err, tverrors.ErrMalformedInput)
}

func TestRemoveRecipient(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, team.Add(cfg, "bob", agePublicKey(t)))

	require.NoError(t, team.Remove(cfg, "bob"))
	assert.Len(t, cfg.Recipients, 1)
	assert.NotContains(t, cfg.Recipients, "bob")
}

func TestRemoveUnknownRecipient(t *testing.T) {
	t.Parallel()

	err := team.Remove(testConfig(t), "nobody")
	assert.ErrorIs(t, err, tverrors.ErrNotFound)
}

func TestRemoveLastRecipientRefused(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	err := team.Remove(cfg, "alice")
	assert.ErrorIs(t, err, tverrors.ErrLastRecipient)
	assert.Len(t, cfg.Recipients, 1)
}

func TestRotateRecipientKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	before := cfg.CurrentFingerprint()

	require.NoError(t, team.Rotate(cfg, "alice", agePublicKey(t)))
	assert.NotEqual(t, before, cfg.CurrentFingerprint())

	assert.ErrorIs(t, team.Rotate(cfg, "nobody", agePublicKey(t)), tverrors.ErrNotFound)
	assert.ErrorIs(t, team.Rotate(cfg, "alice", "garbage"), tverrors.ErrInvalidKey)
}

func TestListSorted(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, team.Add(cfg, "zed", agePublicKey(t)))
	require.NoError(t, team.Add(cfg, "bob", agePublicKey(t)))

	list := team.List(cfg)
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].Name)
	assert.Equal(t, "bob", list[1].Name)
	assert.Equal(t, "zed", list[2].Name)
}
