// Package refresh implements the sync command.
package refresh

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/store"
)

// Command returns the sync command, which refreshes every stale collection.
func Command(opts *app.Options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh cached collections from the services",
		Long: `Fetch every collection whose cache window has elapsed and save the
result to the local snapshot. With --force every collection is fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			refreshErr := a.Fetcher.RefreshAll(cmd.Context(), force)
			printStates(cmd.OutOrStdout(), a.Store.States())
			return refreshErr
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Fetch every collection regardless of its cache window")
	return cmd
}

func printStates(w io.Writer, states []store.CollectionState) {
	for _, s := range states {
		updated := "never"
		if s.LastUpdated != nil {
			updated = s.LastUpdated.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("%-14s %4d items  updated %s", s.Collection, s.Count, updated)
		if s.Error != "" {
			line += "  error: " + s.Error
		}
		fmt.Fprintln(w, line)
	}
}
