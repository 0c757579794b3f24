package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/vault"
)

func NewSetCommand(app *App) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a secret, encrypted for every current recipient",
		Long: `Encrypt a value and store it under the given key.

The value is taken from the argument, or from stdin with --stdin so it
never appears in shell history.

Examples:
  teamvault set DB_URL postgres://db.internal/app
  pass show deploy-token | teamvault set DEPLOY_TOKEN --stdin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := vault.ValidateSecretKey(key); err != nil {
				return tverrors.UserError{
					Message:    fmt.Sprintf("invalid secret key %q", key),
					Suggestion: "Keys must look like environment variables: letters, digits, underscores, not starting with a digit",
					Err:        err,
				}
			}

			value, err := readSecretValue(args, fromStdin)
			if err != nil {
				return err
			}

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			app.Logger.Debug("encrypting %s=%s", key, logging.Secret(value))
			ciphertext, err := app.Suite().Encrypt(cmd.Context(), []byte(value), cfg.RecipientList())
			if err != nil {
				return tverrors.Suggest(err)
			}

			cfg.Secrets[key] = ciphertext
			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("set %s for %d recipients", key, len(cfg.Recipients))
			warnIfStale(app, cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from stdin")
	return cmd
}

func readSecretValue(args []string, fromStdin bool) (string, error) {
	if fromStdin {
		if len(args) > 1 {
			return "", tverrors.UserError{
				Message:    "cannot combine a value argument with --stdin",
				Suggestion: "Pass the value either as an argument or on stdin, not both",
			}
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read value from stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}

	if len(args) < 2 {
		return "", tverrors.UserError{
			Message:    "no value given",
			Suggestion: "Pass the value as the second argument or use --stdin",
		}
	}
	return args[1], nil
}

func NewGetCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Decrypt and print a secret value",
		Long: `Decrypt one secret with your identity and print the raw value to
stdout, suitable for command substitution:

  export DB_URL=$(teamvault get DB_URL)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			cfg, err := app.Store().Load()
			if err != nil {
				return tverrors.Suggest(err)
			}

			ciphertext, exists := cfg.Secrets[key]
			if !exists {
				return tverrors.UserError{
					Message:    fmt.Sprintf("secret %s not found", key),
					Suggestion: fmt.Sprintf("Known keys: %s", strings.Join(cfg.SecretKeys(), ", ")),
					Err:        tverrors.ErrNotFound,
				}
			}

			id, err := app.Identity()
			if err != nil {
				return tverrors.Suggest(err)
			}

			plaintext, err := app.Suite().Decrypt(cmd.Context(), ciphertext, id)
			if err != nil {
				return tverrors.Suggest(err)
			}

			fmt.Print(string(plaintext))
			return nil
		},
	}
	return cmd
}

func NewUnsetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			if _, exists := cfg.Secrets[key]; !exists {
				return tverrors.UserError{
					Message:    fmt.Sprintf("secret %s not found", key),
					Err:        tverrors.ErrNotFound,
				}
			}

			delete(cfg.Secrets, key)
			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("removed %s", key)
			return nil
		},
	}
}
