package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/identity"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/vault"
)

// newTestApp wires an App against a temp vault with a fresh identity
// injected through the environment.
func newTestApp(t *testing.T) (*App, *age.X25519Identity) {
	t.Helper()

	keyring.MockInit()

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	t.Setenv(identity.EnvKey, id.String())
	t.Setenv(identity.EnvKeyFile, "")
	t.Setenv(identity.EnvKmsKey, "")

	app := &App{
		VaultPath: filepath.Join(t.TempDir(), vault.DefaultFileName),
		Logger:    logging.NewWithWriter(&bytes.Buffer{}, false, true),
	}
	return app, id
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func initVault(t *testing.T, app *App) {
	t.Helper()
	require.NoError(t, execute(t, NewInitCommand(app), "--as", "alice", "--name", "test"))
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestInitCreatesVault(t *testing.T) {
	app, id := newTestApp(t)
	initVault(t, app)

	cfg, err := app.Store().Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, map[string]string{"alice": id.Recipient().String()}, cfg.Recipients)
	assert.False(t, cfg.Stale())
}

func TestInitRefusesExistingVault(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)

	err := execute(t, NewInitCommand(app), "--as", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitGeneratesKeypairWhenNoIdentity(t *testing.T) {
	app, _ := newTestApp(t)
	t.Setenv(identity.EnvKey, "")
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, execute(t, NewInitCommand(app), "--as", "alice"))

	keyPath, err := identity.DefaultKeyPath()
	require.NoError(t, err)
	content, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "AGE-SECRET-KEY-")

	cfg, err := app.Store().Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Recipients, 1)
}

func TestSetGetRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)

	require.NoError(t, execute(t, NewSetCommand(app), "DB_URL", "postgres://db.internal/app"))

	out := captureStdout(t, func() {
		require.NoError(t, execute(t, NewGetCommand(app), "DB_URL"))
	})
	assert.Equal(t, "postgres://db.internal/app", out)
}

func TestSetRejectsBadKey(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)

	err := execute(t, NewSetCommand(app), "9BAD-KEY", "x")
	assert.ErrorIs(t, err, tverrors.ErrMalformedInput)
}

func TestGetUnknownKey(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)

	err := execute(t, NewGetCommand(app), "MISSING")
	assert.ErrorIs(t, err, tverrors.ErrNotFound)
}

func TestGetWithoutVault(t *testing.T) {
	app, _ := newTestApp(t)

	err := execute(t, NewGetCommand(app), "ANY")
	assert.ErrorIs(t, err, tverrors.ErrNotInitialized)
}

func TestUnsetRemovesSecret(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "TOKEN", "t-1"))

	require.NoError(t, execute(t, NewUnsetCommand(app), "TOKEN"))
	cfg, err := app.Store().Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Secrets)

	err = execute(t, NewUnsetCommand(app), "TOKEN")
	assert.ErrorIs(t, err, tverrors.ErrNotFound)
}

func TestTeamAddSyncGrantsAccess(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "API_KEY", "k-123456"))

	bob, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	require.NoError(t, execute(t, NewTeamCommand(app), "add", "bob", bob.Recipient().String()))

	cfg, err := app.Store().Load()
	require.NoError(t, err)
	require.True(t, cfg.Stale())

	require.NoError(t, execute(t, NewSyncCommand(app)))

	// Bob's identity can now read the secret.
	t.Setenv(identity.EnvKey, bob.String())
	out := captureStdout(t, func() {
		require.NoError(t, execute(t, NewGetCommand(app), "API_KEY"))
	})
	assert.Equal(t, "k-123456", out)
}

func TestTeamRemoveLastRecipient(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)

	err := execute(t, NewTeamCommand(app), "rm", "alice")
	assert.ErrorIs(t, err, tverrors.ErrLastRecipient)
}

func TestSyncNoopWhenCurrent(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "A", "1"))

	before, err := app.Store().Load()
	require.NoError(t, err)

	require.NoError(t, execute(t, NewSyncCommand(app)))

	after, err := app.Store().Load()
	require.NoError(t, err)
	assert.Equal(t, before.Secrets, after.Secrets)
}

func TestExportAndImport(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "DB_URL", "postgres://db"))
	require.NoError(t, execute(t, NewSetCommand(app), "TOKEN", "t-9999"))

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, execute(t, NewExportCommand(app), "--out", envPath))

	info, err := os.Stat(envPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Change a value and import it back without prompting.
	content := "DB_URL=postgres://replica\nTOKEN=t-9999\nNEW_KEY=fresh\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0600))
	require.NoError(t, execute(t, NewImportCommand(app), envPath, "--yes"))

	out := captureStdout(t, func() {
		require.NoError(t, execute(t, NewGetCommand(app), "DB_URL"))
	})
	assert.Equal(t, "postgres://replica", out)

	out = captureStdout(t, func() {
		require.NoError(t, execute(t, NewGetCommand(app), "NEW_KEY"))
	})
	assert.Equal(t, "fresh", out)
}

func TestImportPrune(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "OLD", "gone"))

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KEPT=1\n"), 0600))
	require.NoError(t, execute(t, NewImportCommand(app), envPath, "--yes", "--prune"))

	cfg, err := app.Store().Load()
	require.NoError(t, err)
	assert.NotContains(t, cfg.Secrets, "OLD")
	assert.Contains(t, cfg.Secrets, "KEPT")
}

func TestDiffAgainstEnvFile(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "SAME", "x"))
	require.NoError(t, execute(t, NewSetCommand(app), "CHANGED", "old"))

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SAME=x\nCHANGED=new\nADDED=y\n"), 0600))

	out := captureStdout(t, func() {
		require.NoError(t, execute(t, NewDiffCommand(app), envPath))
	})
	assert.Contains(t, out, "+ ADDED")
	assert.Contains(t, out, "~ CHANGED")
	assert.NotContains(t, out, "SAME")
}

func TestCheckAuditFindsStaleVault(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "A", "1"))

	bob, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	require.NoError(t, execute(t, NewTeamCommand(app), "add", "bob", bob.Recipient().String()))

	err = execute(t, NewCheckCommand(app), "audit", "--no-history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "critical")
}

func TestVaultsListing(t *testing.T) {
	app, _ := newTestApp(t)
	initVault(t, app)
	require.NoError(t, execute(t, NewSetCommand(app), "A", "1"))

	out := captureStdout(t, func() {
		require.NoError(t, execute(t, NewVaultsCommand(app), filepath.Dir(app.VaultPath)))
	})
	assert.Contains(t, out, "test")
	assert.Contains(t, out, "yes")
}
