package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teamvault/teamvault/internal/diff"
	"github.com/teamvault/teamvault/internal/envfile"
	tverrors "github.com/teamvault/teamvault/internal/errors"
)

func NewDiffCommand(app *App) *cobra.Command {
	var showValues bool

	cmd := &cobra.Command{
		Use:   "diff <env-file>",
		Short: "Compare the vault against a local .env file",
		Long: `Decrypt the vault and compare it key by key against an env file.
Values are hidden unless --values is given.

Examples:
  teamvault diff .env
  teamvault diff .env.production --values`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vaultValues, err := decryptAllSecrets(cmd.Context(), app)
			if err != nil {
				return err
			}

			entries, err := envfile.Load(args[0])
			if err != nil {
				return tverrors.Suggest(err)
			}

			result := diff.Compute(vaultValues, envfile.ToMap(entries))
			printDiff(result, showValues)

			if !result.Changed() {
				app.Logger.Info("vault and %s are identical", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showValues, "values", false, "Show plaintext values in the diff")
	return cmd
}

// decryptAllSecrets loads the vault and decrypts every secret with the
// active identity.
func decryptAllSecrets(ctx context.Context, app *App) (map[string]string, error) {
	cfg, err := app.Store().Load()
	if err != nil {
		return nil, tverrors.Suggest(err)
	}

	id, err := app.Identity()
	if err != nil {
		return nil, tverrors.Suggest(err)
	}

	suite := app.Suite()
	values := make(map[string]string, len(cfg.Secrets))
	for _, key := range cfg.SecretKeys() {
		plaintext, err := suite.Decrypt(ctx, cfg.Secrets[key], id)
		if err != nil {
			return nil, tverrors.Suggest(fmt.Errorf("secret %s: %w", key, err))
		}
		values[key] = string(plaintext)
	}
	return values, nil
}

// printDiff renders diff entries with +/-/~ markers, skipping
// unchanged keys.
func printDiff(result diff.Result, showValues bool) {
	for _, e := range result.Entries {
		switch e.Status {
		case diff.Added:
			if showValues {
				fmt.Fprintf(os.Stdout, "+ %s=%s\n", e.Key, e.New)
			} else {
				fmt.Fprintf(os.Stdout, "+ %s\n", e.Key)
			}
		case diff.Removed:
			if showValues {
				fmt.Fprintf(os.Stdout, "- %s=%s\n", e.Key, e.Old)
			} else {
				fmt.Fprintf(os.Stdout, "- %s\n", e.Key)
			}
		case diff.Changed:
			if showValues {
				fmt.Fprintf(os.Stdout, "~ %s: %s -> %s\n", e.Key, e.Old, e.New)
			} else {
				fmt.Fprintf(os.Stdout, "~ %s\n", e.Key)
			}
		}
	}
}
