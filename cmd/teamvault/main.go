package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/teamvault/teamvault/cmd/teamvault/commands"
	"github.com/teamvault/teamvault/internal/logging"
	"github.com/teamvault/teamvault/internal/metrics"
	"github.com/teamvault/teamvault/internal/vault"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe all enclaves on exit, including panic paths.
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	var (
		vaultPath     string
		noColor       bool
		debug         bool
		enableMetrics bool
	)

	app := &commands.App{}

	rootCmd := &cobra.Command{
		Use:   "teamvault",
		Short: "Team secrets vault - encrypted secrets every teammate can read",
		Long: `teamvault keeps a team's secrets in a single version-controlled file,
encrypted so every current recipient can decrypt them with a local age
key or a cloud KMS key.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.VaultPath = vaultPath
			app.Logger = logging.New(debug, noColor)
			if enableMetrics {
				metrics.Init()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", vault.DefaultFileName, "Vault file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&enableMetrics, "metrics", false, "Register Prometheus metrics")

	rootCmd.AddCommand(
		commands.NewInitCommand(app),
		commands.NewTeamCommand(app),
		commands.NewSetCommand(app),
		commands.NewGetCommand(app),
		commands.NewUnsetCommand(app),
		commands.NewSyncCommand(app),
		commands.NewCheckCommand(app),
		commands.NewDiffCommand(app),
		commands.NewImportCommand(app),
		commands.NewExportCommand(app),
		commands.NewVaultsCommand(app),
	)

	return rootCmd.Execute()
}
