package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teamvault/teamvault/internal/vault"
)

func NewVaultsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaults [dir...]",
		Short: "List vaults under the given directories",
		Long: `Scan directories (default: children of the current directory) for
vault files and list each with its secret and recipient counts, and
whether your identity can decrypt it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				var err error
				dirs, err = childDirs(".")
				if err != nil {
					return err
				}
			}

			infos := vault.ListVaults(dirs, app.AccessProbe(cmd.Context()))
			if len(infos) == 0 {
				app.Logger.Info("no vaults found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPATH\tSECRETS\tRECIPIENTS\tACCESS")
			for _, info := range infos {
				access := "no"
				if info.HasAccess {
					access = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					info.Name, info.Path, info.SecretCount, info.RecipientCount, access)
			}
			return w.Flush()
		},
	}
	return cmd
}

// childDirs lists the immediate subdirectories of root, plus root
// itself so a vault in the working directory is found too.
func childDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	dirs := []string{root}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}
