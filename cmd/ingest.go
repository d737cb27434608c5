package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rioncm/birdsong-go/internal/ingest"
)

// ingestCommand processes classifier result files through the
// pipeline.
func ingestCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Process classifier result files (JSON file or directory)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			total := &ingest.Report{}
			for _, path := range args {
				clips, err := ingest.LoadClips(path)
				if err != nil {
					return err
				}
				report, err := app.pipeline.ProcessBatch(cmd.Context(), clips)
				if report != nil {
					total.Clips += report.Clips
					total.Persisted += report.Persisted
					total.Duplicates += report.Duplicates
					total.Skipped += report.Skipped
					total.Alerts += report.Alerts
				}
				if err != nil {
					return err
				}
			}

			fmt.Printf("Processed %d clips: %d detections persisted, %d duplicates, %d skipped, %d alerts\n",
				total.Clips, total.Persisted, total.Duplicates, total.Skipped, total.Alerts)
			return nil
		},
	}
}
