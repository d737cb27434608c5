package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// backfillCommand re-runs enrichment for species rows with missing
// fields.
func backfillCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Re-run enrichment for species with missing data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.resolver.Backfill(cmd.Context())
			if report != nil {
				fmt.Printf("Backfill: %d species scanned, %d updated, %d failed\n",
					report.Scanned, report.Updated, report.Failed)
			}
			return err
		},
	}
}
