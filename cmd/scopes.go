// File: cmd/scopes.go
package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newScopesCmd creates the `scopes` command, which lists the configured
// reconciliation scopes.
func newScopesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "Lists the configured reconciliation scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(cfg.Scopes))
			for name := range cfg.Scopes {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCOPE\tREPOSITORIES\tDESCRIPTION")
			for _, name := range names {
				scope := cfg.Scopes[name]
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(scope.Repositories), scope.Description)
			}
			if all, err := cfg.RepositoriesForScope("all"); err == nil {
				fmt.Fprintf(tw, "all\t%d\tevery repository across all scopes\n", len(all))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nDefault scope: %s\n", cfg.DefaultScope)
			return nil
		},
	}
}
