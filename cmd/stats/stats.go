// Package stats implements the stats command.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/logging"
)

// Report is the output of the stats command.
type Report struct {
	Diagnoses     entities.DiagnosisStats    `json:"diagnoses"`
	Treatments    entities.TreatmentStats    `json:"treatments"`
	Notifications entities.NotificationStats `json:"notifications"`
}

// Command returns the stats command. It prints the statistics derived from
// the cached collections, refreshing stale ones first unless --offline is set.
func Command(opts *app.Options) *cobra.Command {
	var (
		asJSON  bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show diagnosis, treatment and notification statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !offline {
				if err := a.Fetcher.RefreshAll(cmd.Context(), false); err != nil {
					logging.Warn("showing cached statistics after refresh failure", "error", err)
				}
			}

			report := Report{
				Diagnoses:     a.Store.DiagnosisStats(),
				Treatments:    a.Store.TreatmentStats(),
				Notifications: a.Store.NotificationStats(),
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use cached data only")
	return cmd
}

func printReport(w io.Writer, r Report) {
	d := r.Diagnoses
	fmt.Fprintln(w, "Diagnoses")
	fmt.Fprintf(w, "  total %d, this month %d, this week %d\n", d.Total, d.ThisMonth, d.ThisWeek)
	fmt.Fprintf(w, "  disease detected %d, healthy %d, requires treatment %d\n",
		d.DiseaseDetected, d.HealthyCrops, d.RequiresTreatment)

	t := r.Treatments
	fmt.Fprintln(w, "Treatments")
	fmt.Fprintf(w, "  total %d, pending %d, in progress %d, completed %d, overdue %d\n",
		t.Total, t.Pending, t.InProgress, t.Completed, t.Overdue)
	fmt.Fprintf(w, "  average progress %d%%\n", t.AverageProgress)

	n := r.Notifications
	fmt.Fprintln(w, "Notifications")
	fmt.Fprintf(w, "  total %d, unread %d\n", n.Total, n.Unread)
	for _, kind := range slices.Sorted(maps.Keys(n.ByType)) {
		fmt.Fprintf(w, "  %s: %d\n", kind, n.ByType[kind])
	}
}
