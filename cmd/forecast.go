package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rioncm/birdsong-go/internal/datastore"
)

// forecastCommand fetches the day forecast for the configured station
// location and stores it against today's day row.
func forecastCommand(configPath *string) *cobra.Command {
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Fetch and store today's weather forecast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if !cmd.Flags().Changed("lat") {
				lat = app.settings.Location.Latitude
			}
			if !cmd.Flags().Changed("lon") {
				lon = app.settings.Location.Longitude
			}
			if lat == 0 && lon == 0 {
				return fmt.Errorf("station location not configured, set location.latitude and location.longitude or pass --lat/--lon")
			}

			client, err := app.noaaClient()
			if err != nil {
				return err
			}

			now := time.Now()
			summary, err := client.DayForecast(cmd.Context(), lat, lon, now)
			if err != nil {
				return err
			}

			dayID, err := app.store.EnsureDay(now)
			if err != nil {
				return err
			}
			err = app.store.SaveDayForecast(&datastore.DayForecast{
				DayID:         dayID,
				Summary:       summary.Summary,
				TempHighC:     summary.TempHighC,
				TempLowC:      summary.TempLowC,
				Precipitation: summary.Precipitation,
				FetchedAt:     now,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Forecast for %s: %s\n", now.Format("2006-01-02"), summary.Summary)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Station latitude (overrides config)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Station longitude (overrides config)")
	return cmd
}
