package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teamvault/teamvault/internal/diff"
	"github.com/teamvault/teamvault/internal/envfile"
	tverrors "github.com/teamvault/teamvault/internal/errors"
)

func NewImportCommand(app *App) *cobra.Command {
	var (
		assumeYes bool
		prune     bool
	)

	cmd := &cobra.Command{
		Use:   "import <env-file>",
		Short: "Encrypt an env file into the vault",
		Long: `Read KEY=VALUE pairs from an env file and store each value in the
vault, encrypted for the current recipients. A diff against the current
vault contents is shown before anything is written; keys missing from
the file are kept unless --prune is given.

Examples:
  teamvault import .env
  teamvault import .env.production --prune --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := envfile.Load(args[0])
			if err != nil {
				return tverrors.Suggest(err)
			}
			incoming := envfile.ToMap(entries)

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			current, err := decryptAllSecrets(cmd.Context(), app)
			if err != nil {
				return err
			}

			result := diff.Compute(current, incoming)
			if !result.Changed() {
				app.Logger.Info("vault already matches %s", args[0])
				return nil
			}

			printDiff(result, false)
			added, removed, changed := result.Counts()
			if !prune {
				removed = 0
			}
			summary := fmt.Sprintf("%d added, %d changed, %d removed", added, changed, removed)
			if !assumeYes && !confirm(fmt.Sprintf("Apply import (%s)?", summary)) {
				app.Logger.Info("import aborted")
				return nil
			}

			suite := app.Suite()
			recipients := cfg.RecipientList()
			for _, e := range result.Entries {
				switch e.Status {
				case diff.Added, diff.Changed:
					ciphertext, err := suite.Encrypt(cmd.Context(), []byte(e.New), recipients)
					if err != nil {
						return tverrors.Suggest(fmt.Errorf("secret %s: %w", e.Key, err))
					}
					cfg.Secrets[e.Key] = ciphertext
				case diff.Removed:
					if prune {
						delete(cfg.Secrets, e.Key)
					}
				}
			}

			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("imported %s (%s)", args[0], summary)
			warnIfStale(app, cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&assumeYes, "yes", false, "Apply without confirmation")
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove vault secrets absent from the file")
	return cmd
}

func NewExportCommand(app *App) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Decrypt the vault into dotenv format",
		Long: `Decrypt every secret and render it as dotenv text, to stdout or to
a file with --out (written with owner-only permissions).

Examples:
  teamvault export > .env
  teamvault export --out .env`,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := decryptAllSecrets(cmd.Context(), app)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := envfile.WriteFile(outPath, values); err != nil {
					return err
				}
				app.Logger.Info("exported %d secrets to %s", len(values), outPath)
				return nil
			}

			content, err := envfile.Marshal(values)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, content)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write to this file instead of stdout")
	return cmd
}
