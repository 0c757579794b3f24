package commands

import (
	"github.com/spf13/cobra"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/syncer"
)

func NewSyncCommand(app *App) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-encrypt every secret for the current recipient set",
		Long: `Bring the vault's ciphertexts in line with its recipient list.

After 'team add', 'team rm', or 'team rotate' the stored secrets are
still encrypted for the previous member set; sync decrypts each one
with your identity and encrypts it again for the current recipients.
The vault file is only rewritten if every secret converts.

Examples:
  teamvault sync
  teamvault sync --dry-run
  teamvault sync --force   # fresh ciphertexts after a key compromise`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			id, err := app.Identity()
			if err != nil {
				return tverrors.Suggest(err)
			}

			engine := syncer.New(app.Suite(), app.Logger)
			result, err := engine.Sync(cmd.Context(), cfg, id, syncer.Options{
				DryRun: dryRun,
				Force:  force,
			})
			if err != nil {
				return tverrors.Suggest(err)
			}

			if !result.WasNeeded {
				app.Logger.Info("vault already in sync (%d recipients)", result.Recipients)
				return nil
			}
			if dryRun {
				return nil
			}

			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Re-encrypt even when the fingerprint is current")
	return cmd
}
