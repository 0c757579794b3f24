package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	tverrors "github.com/teamvault/teamvault/internal/errors"
	"github.com/teamvault/teamvault/internal/team"
)

func NewTeamCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage vault recipients",
		Long: `Add, list, remove, or rotate the recipients of the vault.

Membership changes never touch stored ciphertexts; after add, rm, or
rotate the vault is stale until 'teamvault sync' re-encrypts every
secret for the new recipient set.`,
	}

	cmd.AddCommand(
		newTeamAddCommand(app),
		newTeamListCommand(app),
		newTeamRemoveCommand(app),
		newTeamRotateCommand(app),
	)
	return cmd
}

func newTeamAddCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <public-key>",
		Short: "Add a recipient",
		Long: `Add a recipient by name and public key.

The key is an age public key (age1...) or a KMS reference
(aws-kms:<key ARN> / gcp-kms:<crypto key resource name>).

Examples:
  teamvault team add bob age1qqpngs4hczyd98kyc8l5lvz33tq5yzkcqm0ha5gldsu2tqrqvdsq7hvk3t
  teamvault team add ci aws-kms:arn:aws:kms:us-east-1:123456789012:key/ci`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, publicKey := args[0], args[1]

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			if err := team.Add(cfg, name, publicKey); err != nil {
				return tverrors.Suggest(err)
			}
			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("added recipient %s", name)
			warnIfStale(app, cfg)
			return nil
		},
	}
}

func newTeamListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Store().Load()
			if err != nil {
				return tverrors.Suggest(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPUBLIC KEY")
			for _, r := range team.List(cfg) {
				fmt.Fprintf(w, "%s\t%s\n", r.Name, r.PublicKey)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			warnIfStale(app, cfg)
			return nil
		},
	}
}

func newTeamRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Remove a recipient",
		Long: `Remove a recipient from the vault.

The removed member can still decrypt current ciphertexts until
'teamvault sync' re-encrypts them, so run sync immediately after.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			if err := team.Remove(cfg, name); err != nil {
				return tverrors.Suggest(err)
			}
			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("removed recipient %s", name)
			app.Logger.Warn("%s can decrypt existing ciphertexts until you run 'teamvault sync'", name)
			return nil
		},
	}
}

func newTeamRotateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <name> <new-public-key>",
		Short: "Replace a recipient's public key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, publicKey := args[0], args[1]

			store := app.Store()
			cfg, err := loadLocked(store)
			if err != nil {
				return err
			}
			defer store.Unlock()

			if err := team.Rotate(cfg, name, publicKey); err != nil {
				return tverrors.Suggest(err)
			}
			if err := store.Save(cfg); err != nil {
				return tverrors.Suggest(err)
			}

			app.Logger.Info("rotated key for %s", name)
			warnIfStale(app, cfg)
			return nil
		},
	}
}
