// Package gbif provides a client for the GBIF backbone taxonomy match
// API, routed through the resilient call framework.
package gbif

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/errors"
	"github.com/rioncm/birdsong-go/internal/httpclient"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/resilient"
)

// Provider is the provider key used for telemetry and breaker state.
const Provider = "gbif"

// Package-level logger specific to the gbif service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "gbif.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "gbif", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize gbif file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "gbif")
		closeLogger = func() error { return nil }
	}
}

// Taxon is the normalized GBIF backbone match result. Only the fields
// the enrichment pipeline consumes are retained.
type Taxon struct {
	UsageKey       int    `json:"usageKey"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName"`
	Rank           string `json:"rank"`
	MatchType      string `json:"matchType"`
	Status         string `json:"status"`
	Confidence     int    `json:"confidence"`
	Kingdom        string `json:"kingdom"`
	Phylum         string `json:"phylum"`
	Class          string `json:"class"`
	Order          string `json:"order"`
	Family         string `json:"family"`
	Genus          string `json:"genus"`
	Species        string `json:"species"`
	VernacularName string `json:"vernacularName"`
}

// Client queries the GBIF species match endpoint.
type Client struct {
	baseURL string
	http    *httpclient.Client
	caller  *resilient.Caller[*Taxon]
}

// New creates a GBIF client from provider settings. The recorder may
// be nil.
func New(settings *conf.ProviderSettings, recorder resilient.Recorder) *Client {
	c := &Client{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		http:    httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout}),
	}
	c.caller = resilient.NewCaller[*Taxon](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[*Taxon](recorder),
		resilient.WithLogger[*Taxon](logger))

	logger.Info("GBIF client initialized", "base_url", c.baseURL)
	return c
}

// Match looks up a name against the GBIF backbone taxonomy. A backbone
// answer of matchType NONE is returned as a not-found provider error,
// which the framework caches as a negative entry.
func (c *Client) Match(ctx context.Context, name string) (*Taxon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Newf("name must not be empty").
			Component(Provider).
			Category(errors.CategoryValidation).
			Build()
	}

	return c.caller.Call(ctx, "match:"+name, func(ctx context.Context) (*Taxon, error) {
		endpoint := c.baseURL + "/species/match?name=" + url.QueryEscape(name)
		resp, err := c.http.Get(ctx, endpoint)
		if err != nil {
			return nil, resilient.Transient(Provider, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, resilient.FromHTTPStatus(Provider, resp.StatusCode,
				resilient.RetryAfter(resp.Header.Get("Retry-After")))
		}

		var taxon Taxon
		if err := json.NewDecoder(resp.Body).Decode(&taxon); err != nil {
			return nil, resilient.Permanent(Provider, errors.Newf("failed to decode match response: %v", err).
				Component(Provider).
				Category(errors.CategoryTaxonomy).
				Context("name", name).
				Build())
		}

		if taxon.MatchType == "" || taxon.MatchType == "NONE" {
			return nil, resilient.NotFound(Provider, errors.Newf("no backbone match for %q", name).
				Component(Provider).
				Category(errors.CategoryNotFound).
				Build())
		}
		return &taxon, nil
	})
}

// Breaker exposes the provider's circuit breaker state for diagnostics.
func (c *Client) Breaker() *resilient.CircuitBreaker {
	return c.caller.Breaker()
}

// Close releases pooled connections and the service log file.
func (c *Client) Close() {
	c.http.Close()
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing gbif logger: %v", err)
		}
	}
}
