// Package ebird provides a client for the eBird 2.0 reference
// taxonomy. The full dataset is fetched once through the resilient
// framework and indexed locally; species-code lookups are then served
// from the index. Lookups are best-effort extras in the enrichment
// pipeline and never block it.
package ebird

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/errors"
	"github.com/rioncm/birdsong-go/internal/httpclient"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/resilient"
)

// Provider is the provider key used for telemetry and breaker state.
const Provider = "ebird"

// speciesPageBaseURL is the public site hosting per-species pages.
const speciesPageBaseURL = "https://ebird.org/species/"

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "ebird.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "ebird", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize ebird file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "ebird")
		closeLogger = func() error { return nil }
	}
}

// TaxonomyEntry is one row of the eBird reference taxonomy.
type TaxonomyEntry struct {
	ScientificName string `json:"sciName"`
	CommonName     string `json:"comName"`
	SpeciesCode    string `json:"speciesCode"`
	Category       string `json:"category"`
}

// SpeciesInfo is a resolved eBird species code with its public page.
type SpeciesInfo struct {
	SpeciesCode string
	CommonName  string
	InfoURL     string
}

// Client resolves species codes against the eBird taxonomy.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	caller  *resilient.Caller[[]TaxonomyEntry]

	mu    sync.RWMutex
	index map[string]TaxonomyEntry
}

// New creates an eBird client from provider settings. The recorder may
// be nil. An API key is required.
func New(settings *conf.ProviderSettings, recorder resilient.Recorder) (*Client, error) {
	if settings.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Component(Provider).
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Client{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		apiKey:  settings.APIKey,
		http:    httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout}),
	}
	c.http.SetBeforeRequestHook(func(req *http.Request) {
		req.Header.Set("X-eBirdApiToken", c.apiKey)
		req.Header.Set("Accept", "application/json")
	})
	c.caller = resilient.NewCaller[[]TaxonomyEntry](Provider, settings.ResilienceConfig(),
		resilient.WithRecorder[[]TaxonomyEntry](recorder),
		resilient.WithLogger[[]TaxonomyEntry](logger))

	logger.Info("eBird client initialized",
		"base_url", c.baseURL,
		"api_key_configured", c.apiKey != "")
	return c, nil
}

// SpeciesCode resolves the eBird species code for a scientific name,
// falling back to the common name. Returns nil, nil when the taxonomy
// has no matching entry.
func (c *Client) SpeciesCode(ctx context.Context, scientificName, commonName string) (*SpeciesInfo, error) {
	scientific := normalizeName(scientificName)
	common := normalizeName(commonName)
	if scientific == "" && common == "" {
		return nil, errors.Newf("scientific or common name required").
			Component(Provider).
			Category(errors.CategoryValidation).
			Build()
	}

	index, err := c.taxonomyIndex(ctx)
	if err != nil {
		return nil, err
	}

	entry, ok := index[scientific]
	if !ok {
		entry, ok = index[common]
	}
	if !ok || entry.SpeciesCode == "" {
		return nil, nil
	}

	code := strings.ToLower(entry.SpeciesCode)
	return &SpeciesInfo{
		SpeciesCode: code,
		CommonName:  entry.CommonName,
		InfoURL:     speciesPageBaseURL + code,
	}, nil
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
			log.Printf("Error closing ebird logger: %v", err)
		}
	}
}

// taxonomyIndex returns the name index, loading the dataset on first
// use. The resilient caller's cache makes the download survive a local
// index reset; the index makes repeated lookups cheap.
func (c *Client) taxonomyIndex(ctx context.Context) (map[string]TaxonomyEntry, error) {
	c.mu.RLock()
	index := c.index
	c.mu.RUnlock()
	if index != nil {
		return index, nil
	}

	entries, err := c.caller.Call(ctx, "taxonomy", func(ctx context.Context) ([]TaxonomyEntry, error) {
		endpoint := c.baseURL + "/ref/taxonomy/ebird?fmt=json&cat=species"
		resp, err := c.http.Get(ctx, endpoint)
		if err != nil {
			return nil, resilient.Transient(Provider, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, resilient.FromHTTPStatus(Provider, resp.StatusCode,
				resilient.RetryAfter(resp.Header.Get("Retry-After")))
		}

		var payload []TaxonomyEntry
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, resilient.Permanent(Provider, errors.Newf("failed to decode taxonomy response: %v", err).
				Component(Provider).
				Category(errors.CategoryTaxonomy).
				Build())
		}
		logger.Info("loaded eBird taxonomy dataset", "entries", len(payload))
		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	index = make(map[string]TaxonomyEntry, len(entries)*2)
	for _, entry := range entries {
		if name := normalizeName(entry.ScientificName); name != "" {
			index[name] = entry
		}
		if name := normalizeName(entry.CommonName); name != "" {
			if _, taken := index[name]; !taken {
				index[name] = entry
			}
		}
	}

	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
	return index, nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
