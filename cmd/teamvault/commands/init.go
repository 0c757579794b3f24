package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/identity"
	"github.com/teamvault/teamvault/internal/vault"
)

func NewInitCommand(app *App) *cobra.Command {
	var (
		vaultName     string
		recipientName string
		publicKey     string
		useKeyring    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a vault with yourself as the first recipient",
		Long: `Create a new vault file in the current directory.

When no identity is configured yet, init generates an age keypair and
stores the secret key in ~/.config/teamvault/identity.txt (or the OS
keyring with --keyring). The public key becomes the first recipient.

Examples:
  # Create a vault, generating a keypair if needed
  teamvault init --name backend --as alice

  # Register an existing public key instead
  teamvault init --as ci --public-key aws-kms:arn:aws:kms:us-east-1:1:key/ci`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipientName == "" {
				return tverrors.UserError{
					Message:    "recipient name is required",
					Suggestion: "Use --as <your-name> to name yourself in the vault",
				}
			}

			if publicKey == "" {
				key, err := ensureIdentity(app, recipientName, useKeyring)
				if err != nil {
					return err
				}
				publicKey = key
			}

			store := app.Store()
			cfg, err := store.Init(vaultName, recipientName, publicKey)
			if err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("created vault %s (id %s)", store.Path(), cfg.ID)
			app.Logger.Info("first recipient: %s", recipientName)
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultName, "name", "", "Human-readable vault name")
	cmd.Flags().StringVar(&recipientName, "as", "", "Your recipient name (required)")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Use this public key instead of a generated one")
	cmd.Flags().BoolVar(&useKeyring, "keyring", false, "Store a generated secret key in the OS keyring")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

// ensureIdentity returns the public key of the active identity,
// generating and persisting a keypair when none is configured.
func ensureIdentity(app *App, name string, useKeyring bool) (string, error) {
	if id, err := app.Identity(); err == nil {
		if local, ok := id.Source.(vault.LocalKey); ok {
			pub, err := publicKeyOf(local)
			if err != nil {
				return "", err
			}
			app.Logger.Debug("reusing existing identity %s", id.Name)
			return pub, nil
		}
		if kmsKey, ok := id.Source.(vault.KmsKey); ok {
			return kmsKey.Provider + "-kms:" + kmsKey.KeyRef, nil
		}
	} else if !errors.Is(err, tverrors.ErrUnauthorized) {
		return "", err
	}

	gen, publicKey, err := identity.Generate(name)
	if err != nil {
		return "", err
	}

	if useKeyring {
		if err := identity.StoreKeyring(gen); err != nil {
			return "", err
		}
		app.Logger.Info("generated keypair, secret key stored in OS keyring")
		return publicKey, nil
	}

	path, err := identity.DefaultKeyPath()
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return "", tverrors.UserError{
			Message:    fmt.Sprintf("identity file %s already exists but could not be loaded", path),
			Suggestion: "Fix or remove the existing identity file before generating a new one",
		}
	}
	if err := identity.WriteKeyFile(path, gen, publicKey); err != nil {
		return "", err
	}
	app.Logger.Info("generated keypair, secret key written to %s", path)
	return publicKey, nil
}
