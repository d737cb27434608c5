package species

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/rioncm/birdsong-go/internal/datastore"
	"github.com/rioncm/birdsong-go/internal/ebird"
	"github.com/rioncm/birdsong-go/internal/errors"
	"github.com/rioncm/birdsong-go/internal/gbif"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/resilient"
	"github.com/rioncm/birdsong-go/internal/wikimedia"
)

// Data source registry names used for citation provenance.
const (
	SourceGBIF      = "Global Biodiversity Information Facility"
	SourceWikimedia = "Wikimedia Commons"
	SourceEBird     = "eBird"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "species.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "species", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize species file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "species")
		closeLogger = func() error { return nil }
	}
}

// CloseLogger closes the service log file. Called once at shutdown.
func CloseLogger() error {
	if closeLogger == nil {
		return nil
	}
	return closeLogger()
}

// TaxonomySource matches names against a taxonomy backbone.
type TaxonomySource interface {
	Match(ctx context.Context, name string) (*gbif.Taxon, error)
}

// MediaSource fetches page summaries and licensed images.
type MediaSource interface {
	Summary(ctx context.Context, title string) (*wikimedia.Summary, error)
	Media(ctx context.Context, title string) (*wikimedia.Media, error)
}

// CodeSource resolves species codes. Optional; a nil CodeSource skips
// the lookup.
type CodeSource interface {
	SpeciesCode(ctx context.Context, scientificName, commonName string) (*ebird.SpeciesInfo, error)
}

// Result reports one resolution.
type Result struct {
	Species *datastore.Species
	// Created is true when this resolution inserted the row.
	Created bool
	// Enriched is true when provider lookups ran in this resolution.
	Enriched bool
}

// Resolver guarantees a species row exists for a detection, enriching
// new names from the providers. Concurrent resolutions of the same
// name share one enrichment through the in-flight group; losers read
// the winner's row.
type Resolver struct {
	store    datastore.Interface
	taxonomy TaxonomySource
	media    MediaSource
	codes    CodeSource

	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver creates a resolver. taxonomy and media are required;
// codes may be nil.
func NewResolver(store datastore.Interface, taxonomy TaxonomySource, media MediaSource, codes CodeSource) *Resolver {
	return &Resolver{
		store:    store,
		taxonomy: taxonomy,
		media:    media,
		codes:    codes,
		logger:   logger,
	}
}

// Resolve returns the species record for a scientific name, creating
// and enriching it when unknown. Provider failures degrade to partial
// enrichment; only validation and store failures surface as errors.
func (r *Resolver) Resolve(ctx context.Context, scientificName, commonName string) (*Result, error) {
	id, canonical := CanonicalID(scientificName)
	if id == "" {
		return nil, errors.Newf("scientific name must not be empty").
			Component("species").
			Category(errors.CategoryValidation).
			Build()
	}

	// Fast path: the durable store is the cache.
	if stored, err := r.store.GetSpecies(id); err != nil {
		return nil, err
	} else if stored != nil {
		return &Result{Species: stored}, nil
	}

	var ran bool
	value, err, _ := r.group.Do(id, func() (any, error) {
		ran = true
		return r.resolveSlow(ctx, id, canonical, scientificName, commonName)
	})
	if err != nil {
		return nil, err
	}

	result := value.(*Result)
	if !ran {
		// Losers of the in-flight race share the winner's row but did
		// not create or enrich anything themselves.
		return &Result{Species: result.Species}, nil
	}
	return result, nil
}

// resolveSlow runs under the in-flight group: one execution per
// canonical id at a time.
func (r *Resolver) resolveSlow(ctx context.Context, id, canonical, scientificName, commonName string) (*Result, error) {
	// Re-check under the group; another process may have won the race
	// before this one entered it.
	if stored, err := r.store.GetSpecies(id); err != nil {
		return nil, err
	} else if stored != nil {
		return &Result{Species: stored}, nil
	}

	enriched := r.enrich(ctx, canonical, scientificName, commonName)

	record := r.buildRecord(id, canonical, scientificName, commonName, enriched)
	created, stored, err := r.store.UpsertSpecies(record)
	if err != nil {
		return nil, err
	}
	if created {
		r.recordCitations(id, enriched)
	}

	r.logger.Info("species resolved",
		"species_id", id,
		"scientific_name", scientificName,
		"created", created,
		"has_taxon", enriched.taxon != nil,
		"has_summary", enriched.summary != nil,
		"has_media", enriched.media != nil,
		"has_ebird", enriched.ebirdInfo != nil)

	return &Result{Species: stored, Created: created, Enriched: true}, nil
}

// enrichment holds whatever the providers yielded. Any subset may be
// nil; persistence proceeds with nulls for the rest.
type enrichment struct {
	taxon     *gbif.Taxon
	summary   *wikimedia.Summary
	media     *wikimedia.Media
	ebirdInfo *ebird.SpeciesInfo
}

func (r *Resolver) enrich(ctx context.Context, canonical, scientificName, commonName string) *enrichment {
	e := &enrichment{}

	taxon, err := r.taxonomy.Match(ctx, scientificName)
	switch {
	case err == nil:
		e.taxon = taxon
	case resilient.IsNotFound(err):
		// Terminal negative for this name. The record is persisted
		// with null taxonomy; not an error.
		r.logger.Info("no taxonomy match", "scientific_name", scientificName)
	default:
		r.logger.Warn("taxonomy lookup failed, continuing with partial enrichment",
			"scientific_name", scientificName, "error", err.Error())
	}

	if e.taxon == nil && commonName != "" {
		// A common-name query sometimes matches when the raw
		// classifier label does not.
		if taxon, err := r.taxonomy.Match(ctx, commonName); err == nil {
			e.taxon = taxon
		}
	}

	if r.codes != nil {
		info, err := r.codes.SpeciesCode(ctx, scientificName, commonName)
		if err != nil {
			r.logger.Warn("species code lookup failed",
				"scientific_name", scientificName, "error", err.Error())
		} else {
			e.ebirdInfo = info
		}
	}

	titles := lookupTitles(e.taxon, canonical, scientificName, commonName)
	for _, title := range titles {
		summary, err := r.media.Summary(ctx, title)
		if err != nil {
			if !resilient.IsNotFound(err) {
				r.logger.Warn("summary lookup failed", "title", title, "error", err.Error())
			}
			continue
		}
		e.summary = summary
		break
	}
	for _, title := range titles {
		media, err := r.media.Media(ctx, title)
		if err != nil {
			if !resilient.IsNotFound(err) {
				r.logger.Warn("media lookup failed", "title", title, "error", err.Error())
			}
			continue
		}
		e.media = media
		break
	}

	return e
}

// lookupTitles orders the candidate wiki titles: taxon canonical name,
// the caller's canonical and raw names, then the common name.
func lookupTitles(taxon *gbif.Taxon, canonical, scientificName, commonName string) []string {
	candidates := make([]string, 0, 4)
	if taxon != nil && taxon.CanonicalName != "" {
		candidates = append(candidates, taxon.CanonicalName)
	}
	candidates = append(candidates, canonical, scientificName)
	if commonName != "" {
		candidates = append(candidates, commonName)
	}

	seen := make(map[string]struct{}, len(candidates))
	titles := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		titles = append(titles, c)
	}
	return titles
}

func (r *Resolver) buildRecord(id, canonical, scientificName, commonName string, e *enrichment) *datastore.Species {
	record := &datastore.Species{
		ID:             id,
		ScientificName: canonical,
	}

	if t := e.taxon; t != nil {
		record.Genus = optional(t.Genus)
		record.Family = optional(t.Family)
		record.SpeciesEpithet = optional(t.Species)
	}
	if record.SpeciesEpithet == nil {
		if parts := strings.Fields(canonical); len(parts) > 1 {
			record.SpeciesEpithet = optional(parts[len(parts)-1])
			if record.Genus == nil {
				record.Genus = optional(parts[0])
			}
		}
	}

	switch {
	case commonName != "":
		record.CommonName = commonName
	case e.ebirdInfo != nil && e.ebirdInfo.CommonName != "":
		record.CommonName = e.ebirdInfo.CommonName
	case e.taxon != nil && e.taxon.VernacularName != "":
		record.CommonName = e.taxon.VernacularName
	default:
		record.CommonName = scientificName
	}

	if e.media != nil {
		record.ImageURL = optional(e.media.ImageURL)
	}
	if e.summary != nil {
		record.Summary = optional(e.summary.Extract)
		record.InfoURL = optional(e.summary.PageURL)
	}
	// eBird wins the info URL when both providers answered.
	if e.ebirdInfo != nil {
		record.EBirdCode = optional(e.ebirdInfo.SpeciesCode)
		record.InfoURL = optional(e.ebirdInfo.InfoURL)
	}

	return record
}

// recordCitations persists one provenance row per contributing
// provider. Citation failures are logged, never fatal.
func (r *Resolver) recordCitations(speciesID string, e *enrichment) {
	if e.taxon != nil {
		r.citation(SourceGBIF, "https://www.gbif.org", speciesID, "taxa", e.taxon)
	}
	if e.summary != nil {
		r.citation(SourceWikimedia, "https://commons.wikimedia.org", speciesID, "copy", e.summary)
	}
	if e.media != nil {
		r.citation(SourceWikimedia, "https://commons.wikimedia.org", speciesID, "image", e.media)
	}
	if e.ebirdInfo != nil {
		r.citation(SourceEBird, "https://ebird.org", speciesID, "copy", e.ebirdInfo)
	}
}

func (r *Resolver) citation(sourceName, sourceURL, speciesID, dataType string, payload any) {
	sourceID, err := r.store.EnsureDataSource(sourceName, sourceURL)
	if err != nil {
		r.logger.Warn("failed to ensure data source", "source", sourceName, "error", err.Error())
		return
	}
	content, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("failed to encode citation payload", "source", sourceName, "error", err.Error())
		return
	}
	err = r.store.InsertCitation(&datastore.Citation{
		SourceID:  sourceID,
		SpeciesID: speciesID,
		DataType:  dataType,
		Content:   string(content),
	})
	if err != nil {
		r.logger.Warn("failed to insert citation",
			"source", sourceName, "species_id", speciesID, "data_type", dataType, "error", err.Error())
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
