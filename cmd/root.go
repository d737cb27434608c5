// Package cmd wires the CLI commands to the application components.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rioncm/birdsong-go/internal/alerting"
	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/datastore"
	"github.com/rioncm/birdsong-go/internal/ebird"
	"github.com/rioncm/birdsong-go/internal/gbif"
	"github.com/rioncm/birdsong-go/internal/ingest"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/noaa"
	"github.com/rioncm/birdsong-go/internal/observability/metrics"
	"github.com/rioncm/birdsong-go/internal/species"
	"github.com/rioncm/birdsong-go/internal/wikimedia"
)

// RootCommand builds the root command with all subcommands attached.
func RootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "birdsong",
		Short:        "BirdSong detection ingest and enrichment pipeline",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(
		ingestCommand(&configPath),
		backfillCommand(&configPath),
		forecastCommand(&configPath),
	)
	return rootCmd
}

// app holds the wired application components for one command run.
type app struct {
	settings *conf.Settings
	store    datastore.Interface
	registry *prometheus.Registry
	recorder *metrics.ProviderMetrics
	resolver *species.Resolver
	engine   *alerting.Engine
	pipeline *ingest.Pipeline

	closers []func()
}

// buildApp loads configuration and constructs the component graph.
func buildApp(configPath string) (*app, error) {
	settings, err := conf.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.Init()
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return nil, err
	}

	a := &app{settings: settings, store: store}
	a.closers = append(a.closers,
		func() { _ = species.CloseLogger() },
		func() { _ = alerting.CloseLogger() },
		func() { _ = ingest.CloseLogger() },
		func() { _ = store.Close() },
	)

	a.registry = prometheus.NewRegistry()
	a.recorder, err = metrics.NewProviderMetrics(a.registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	gbifClient := gbif.New(&settings.Providers.GBIF, a.recorder)
	a.closers = append(a.closers, gbifClient.Close)

	wikiClient := wikimedia.New(&settings.Providers.Wikimedia, a.recorder)
	a.closers = append(a.closers, wikiClient.Close)

	var codes species.CodeSource
	if settings.Providers.EBird.Enabled {
		ebirdClient, err := ebird.New(&settings.Providers.EBird, a.recorder)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, ebirdClient.Close)
		codes = ebirdClient
	}

	a.resolver = species.NewResolver(store, gbifClient, wikiClient, codes)

	rules, err := alerting.RulesFromSettings(&settings.Alerts)
	if err != nil {
		a.Close()
		return nil, err
	}
	if len(rules) > 0 {
		publisher, err := buildPublisher(settings)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.engine = alerting.NewEngine(rules, store, publisher)
	}

	a.pipeline = ingest.New(settings, store, a.resolver, a.engine)
	return a, nil
}

func buildPublisher(settings *conf.Settings) (alerting.Publisher, error) {
	logPublisher := alerting.NewLogPublisher(logging.ForService("alerts"))
	if len(settings.Alerts.PushURLs) == 0 {
		return logPublisher, nil
	}
	push, err := alerting.NewPushPublisher(settings.Alerts.PushURLs, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to build push publisher: %w", err)
	}
	return alerting.MultiPublisher{logPublisher, push}, nil
}

// noaaClient builds the weather client on demand; the forecast command
// is the only consumer. Telemetry lands in the shared registry, keyed
// by provider like the enrichment clients.
func (a *app) noaaClient() (*noaa.Client, error) {
	if !a.settings.Providers.NOAA.Enabled {
		return nil, fmt.Errorf("NOAA provider is disabled, enable providers.noaa in config")
	}
	client := noaa.New(&a.settings.Providers.NOAA, a.recorder)
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
