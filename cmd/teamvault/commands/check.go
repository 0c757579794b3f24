package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teamvault/teamvault/internal/audit"
	tverrors "github.com/teamvault/teamvault/internal/errors"
)

func NewCheckCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Inspect vault health",
	}
	cmd.AddCommand(
		newCheckStatusCommand(app),
		newCheckAuditCommand(app),
	)
	return cmd
}

func newCheckStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the vault and whether a sync is pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := app.Store()
			cfg, err := store.Load()
			if err != nil {
				return tverrors.Suggest(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Vault:\t%s\n", store.Path())
			if cfg.Name != "" {
				fmt.Fprintf(w, "Name:\t%s\n", cfg.Name)
			}
			fmt.Fprintf(w, "ID:\t%s\n", cfg.ID)
			fmt.Fprintf(w, "Recipients:\t%d\n", len(cfg.Recipients))
			fmt.Fprintf(w, "Secrets:\t%d\n", len(cfg.Secrets))
			if cfg.Stale() {
				fmt.Fprintf(w, "Sync:\tREQUIRED (recipient set changed)\n")
			} else {
				fmt.Fprintf(w, "Sync:\tup to date\n")
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if cfg.Stale() {
				app.Logger.Warn("run 'teamvault sync' to re-encrypt for the current recipients")
			}
			return nil
		},
	}
}

func newCheckAuditCommand(app *App) *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run security checks over the vault",
		Long: `Run every audit check: duplicate recipient keys, single-recipient
bus factor, stale encryption, plaintext values, and plaintext secrets
in the repository history of the vault file.

Exits non-zero when any CRITICAL finding is present.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := app.Store()
			cfg, err := store.Load()
			if err != nil {
				return tverrors.Suggest(err)
			}

			in := &audit.Input{Config: cfg, Path: store.Path()}
			if !noHistory {
				if abs, err := filepath.Abs(store.Path()); err == nil {
					in.Path = abs
				}
				in.History = audit.NewGitHistory()
			}

			report := audit.NewEngine().Run(cmd.Context(), in)
			if report.Clean() {
				app.Logger.Info("no findings")
				return nil
			}

			for _, f := range report.Findings {
				switch f.Severity {
				case audit.Critical:
					app.Logger.Error("[%s] %s", f.Severity, f.Description)
				case audit.Warning:
					app.Logger.Warn("[%s] %s", f.Severity, f.Description)
				default:
					app.Logger.Info("[%s] %s", f.Severity, f.Description)
				}
			}

			if report.MaxSeverity() == audit.Critical {
				return tverrors.UserError{
					Message:    "audit found critical problems",
					Suggestion: "Address the CRITICAL findings above before committing the vault",
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip the git history scan")
	return cmd
}
