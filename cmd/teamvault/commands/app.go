// Package commands implements the teamvault CLI. Each command is a
// thin wrapper: flags in, one call into the engine packages, findings
// or values out. All business rules live below this package.
package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/teamvault/teamvault/internal/backends"
	"github.com/teamvault/teamvault/internal/cipher"
	"github.com/teamvault/teamvault/internal/identity"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/vault"
	"github.com/teamvault/teamvault/pkg/kms"
)

// App carries state shared by every command, populated from the
// persistent flags before any RunE fires.
type App struct {
	VaultPath string
	Logger    *logging.Logger
}

// Store opens a session on the configured vault file.
func (a *App) Store() *vault.Store {
	return vault.NewStore(a.VaultPath)
}

// Suite builds the cipher suite with lazily constructed KMS backends,
// so commands on local-only vaults never touch cloud SDK setup.
func (a *App) Suite() *cipher.Suite {
	registry := backends.NewRegistry()
	kmsBackends := make(map[string]kms.Backend)
	for _, providerType := range registry.SupportedTypes() {
		kmsBackends[providerType] = backends.NewLazy(registry, providerType, nil)
	}
	return cipher.NewSuite(kmsBackends)
}

// Identity resolves the caller's private credential.
func (a *App) Identity() (vault.Identity, error) {
	return identity.NewLoader(a.Logger).Load()
}

// AccessProbe returns a trial-decrypt function for VaultInfo listings,
// or nil when no identity is configured.
func (a *App) AccessProbe(ctx context.Context) vault.AccessProbe {
	id, err := a.Identity()
	if err != nil {
		return nil
	}
	suite := a.Suite()
	return func(ciphertext string) bool {
		_, err := suite.Decrypt(ctx, ciphertext, id)
		return err == nil
	}
}

// confirm prompts for a yes/no answer on the terminal. A non-terminal
// stdin answers no, so scripted callers must pass --yes.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// warnIfStale reminds the user that a membership change has not been
// applied to the ciphertexts yet.
func warnIfStale(a *App, cfg *vault.Config) {
	if cfg.Stale() {
		a.Logger.Warn("recipient set changed since last sync, run 'teamvault sync'")
	}
}
