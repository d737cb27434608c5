package species

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rioncm/birdsong-go/internal/datastore"
	"github.com/rioncm/birdsong-go/internal/ebird"
	"github.com/rioncm/birdsong-go/internal/gbif"
	"github.com/rioncm/birdsong-go/internal/resilient"
	"github.com/rioncm/birdsong-go/internal/wikimedia"
)

// memStore is an in-memory datastore.Interface for resolver tests.
type memStore struct {
	mu        sync.Mutex
	species   map[string]*datastore.Species
	sources   map[string]uint
	citations []datastore.Citation
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{
		species: map[string]*datastore.Species{},
		sources: map[string]uint{},
	}
}

func (m *memStore) Open() error  { return nil }
func (m *memStore) Close() error { return nil }

func (m *memStore) GetSpecies(id string) (*datastore.Species, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.species[id]; ok {
		row := *s
		return &row, nil
	}
	return nil, nil
}

func (m *memStore) GetSpeciesByScientificName(name string) (*datastore.Species, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.species {
		if s.ScientificName == name {
			row := *s
			return &row, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertSpecies(s *datastore.Species) (bool, *datastore.Species, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if existing, ok := m.species[s.ID]; ok {
		row := *existing
		return false, &row, nil
	}
	row := *s
	m.species[s.ID] = &row
	result := row
	return true, &result, nil
}

func (m *memStore) UpdateSpeciesEnrichment(s *datastore.Species) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.species[s.ID]
	if !ok {
		return nil
	}
	if s.Genus != nil {
		existing.Genus = s.Genus
	}
	if s.Family != nil {
		existing.Family = s.Family
	}
	if s.SpeciesEpithet != nil {
		existing.SpeciesEpithet = s.SpeciesEpithet
	}
	if s.ImageURL != nil {
		existing.ImageURL = s.ImageURL
	}
	if s.InfoURL != nil {
		existing.InfoURL = s.InfoURL
	}
	if s.Summary != nil {
		existing.Summary = s.Summary
	}
	if s.EBirdCode != nil {
		existing.EBirdCode = s.EBirdCode
	}
	return nil
}

func (m *memStore) SpeciesMissingEnrichment() ([]datastore.Species, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []datastore.Species
	for _, s := range m.species {
		if s.Genus == nil || s.Family == nil || s.ImageURL == nil || s.Summary == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) GetDataSourceID(name string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[name], nil
}

func (m *memStore) EnsureDataSource(name, url string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.sources[name]; ok {
		return id, nil
	}
	id := uint(len(m.sources) + 1)
	m.sources[name] = id
	return id, nil
}

func (m *memStore) InsertCitation(c *datastore.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.citations {
		if existing.SourceID == c.SourceID && existing.SpeciesID == c.SpeciesID && existing.DataType == c.DataType {
			return nil
		}
	}
	m.citations = append(m.citations, *c)
	return nil
}

func (m *memStore) EnsureDay(time.Time) (uint, error)                   { return 1, nil }
func (m *memStore) EnsureRecording(*datastore.Recording) error          { return nil }
func (m *memStore) InsertIdent(*datastore.Ident) (bool, error)          { return true, nil }
func (m *memStore) UpdateSpeciesDetectionStats(string, time.Time) error { return nil }
func (m *memStore) HasPriorDetection(string, time.Time) (bool, error)   { return false, nil }
func (m *memStore) LastDetectionAt(string, time.Time) (*time.Time, error) {
	return nil, nil
}
func (m *memStore) SaveDayForecast(*datastore.DayForecast) error { return nil }

type fakeTaxonomy struct {
	taxon *gbif.Taxon
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeTaxonomy) Match(ctx context.Context, name string) (*gbif.Taxon, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.taxon, nil
}

type fakeMedia struct {
	summary    *wikimedia.Summary
	media      *wikimedia.Media
	summaryErr error
	mediaErr   error
}

func (f *fakeMedia) Summary(context.Context, string) (*wikimedia.Summary, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeMedia) Media(context.Context, string) (*wikimedia.Media, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

type fakeCodes struct {
	info *ebird.SpeciesInfo
	err  error
}

func (f *fakeCodes) SpeciesCode(context.Context, string, string) (*ebird.SpeciesInfo, error) {
	return f.info, f.err
}

func ravenTaxon() *gbif.Taxon {
	return &gbif.Taxon{
		UsageKey:       2482468,
		ScientificName: "Corvus corax Linnaeus, 1758",
		CanonicalName:  "Corvus corax",
		MatchType:      "EXACT",
		Family:         "Corvidae",
		Genus:          "Corvus",
		Species:        "Corvus corax",
	}
}

func TestCanonicalIDIsDeterministic(t *testing.T) {
	id1, canonical1 := CanonicalID("Corvus corax")
	id2, canonical2 := CanonicalID("  Corvus   corax ")
	require.NotEmpty(t, id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, canonical1, canonical2)
	assert.Equal(t, "Corvus corax", canonical1)

	id3, _ := CanonicalID("Turdus migratorius")
	assert.NotEqual(t, id1, id3)
}

func TestCanonicalIDEmptyName(t *testing.T) {
	id, canonical := CanonicalID("   ")
	assert.Empty(t, id)
	assert.Empty(t, canonical)
}

func TestResolveFastPathSkipsProviders(t *testing.T) {
	store := newMemStore()
	taxonomy := &fakeTaxonomy{taxon: ravenTaxon()}
	resolver := NewResolver(store, taxonomy, &fakeMedia{}, nil)

	id, _ := CanonicalID("Corvus corax")
	store.species[id] = &datastore.Species{ID: id, ScientificName: "Corvus corax"}

	result, err := resolver.Resolve(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	assert.Equal(t, id, result.Species.ID)
	assert.False(t, result.Created)
	assert.False(t, result.Enriched)
	assert.Equal(t, int32(0), taxonomy.calls.Load(), "stored species must cost zero outbound calls")
}

func TestResolveEnrichesNewSpecies(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store,
		&fakeTaxonomy{taxon: ravenTaxon()},
		&fakeMedia{
			summary: &wikimedia.Summary{
				Title:   "Common raven",
				Extract: "The common raven is a large all-black passerine bird.",
				PageURL: "https://en.wikipedia.org/wiki/Common_raven",
			},
			media: &wikimedia.Media{
				Title:    "File:Corvus corax.jpg",
				ImageURL: "https://upload.wikimedia.org/corvus_corax.jpg",
			},
		},
		&fakeCodes{info: &ebird.SpeciesInfo{
			SpeciesCode: "comrav",
			CommonName:  "Common Raven",
			InfoURL:     "https://ebird.org/species/comrav",
		}})

	result, err := resolver.Resolve(context.Background(), "Corvus corax", "Common Raven")
	require.NoError(t, err)
	require.True(t, result.Created)
	require.True(t, result.Enriched)

	s := result.Species
	assert.Equal(t, "Corvus corax", s.ScientificName)
	assert.Equal(t, "Common Raven", s.CommonName)
	require.NotNil(t, s.Genus)
	assert.Equal(t, "Corvus", *s.Genus)
	require.NotNil(t, s.Family)
	assert.Equal(t, "Corvidae", *s.Family)
	require.NotNil(t, s.ImageURL)
	assert.Equal(t, "https://upload.wikimedia.org/corvus_corax.jpg", *s.ImageURL)
	require.NotNil(t, s.Summary)
	require.NotNil(t, s.EBirdCode)
	assert.Equal(t, "comrav", *s.EBirdCode)
	// eBird's page wins the info URL over the Wikipedia page.
	require.NotNil(t, s.InfoURL)
	assert.Equal(t, "https://ebird.org/species/comrav", *s.InfoURL)

	// One citation per contributing provider and data type.
	types := map[string]int{}
	for _, c := range store.citations {
		types[c.DataType]++
	}
	assert.Equal(t, 1, types["taxa"])
	assert.Equal(t, 1, types["image"])
	assert.Equal(t, 2, types["copy"], "Wikimedia summary and eBird copy")
}

func TestResolveTaxonNotFoundPersistsWithNulls(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store,
		&fakeTaxonomy{err: resilient.NotFound("gbif", nil)},
		&fakeMedia{
			summaryErr: resilient.NotFound("wikimedia", nil),
			mediaErr:   resilient.NotFound("wikimedia", nil),
		}, nil)

	result, err := resolver.Resolve(context.Background(), "Corvus imaginarius", "")
	require.NoError(t, err, "a failed match is not a pipeline error")
	require.True(t, result.Created)

	s := result.Species
	assert.Nil(t, s.Family)
	assert.Nil(t, s.ImageURL)
	assert.Nil(t, s.Summary)
	// Binomial fallback still splits the name.
	require.NotNil(t, s.Genus)
	assert.Equal(t, "Corvus", *s.Genus)
	assert.Empty(t, store.citations)
}

func TestResolveProviderOutageDegradesToPartial(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store,
		&fakeTaxonomy{taxon: ravenTaxon()},
		&fakeMedia{
			summaryErr: resilient.Transient("wikimedia", assert.AnError),
			mediaErr:   &resilient.ProviderError{Provider: "wikimedia", Kind: resilient.KindCircuitOpen},
		}, nil)

	result, err := resolver.Resolve(context.Background(), "Corvus corax", "")
	require.NoError(t, err)

	s := result.Species
	require.NotNil(t, s.Family, "taxonomy succeeded")
	assert.Nil(t, s.ImageURL, "media outage leaves nulls")
	assert.Nil(t, s.Summary)
}

func TestResolveSharesInFlightEnrichment(t *testing.T) {
	store := newMemStore()
	taxonomy := &fakeTaxonomy{taxon: ravenTaxon(), delay: 30 * time.Millisecond}
	resolver := NewResolver(store, taxonomy, &fakeMedia{}, nil)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.Resolve(context.Background(), "Corvus corax", "")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Species)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, int32(1), taxonomy.calls.Load(), "concurrent resolvers share one enrichment")
	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, 1, created)
}

func TestBackfillFillsMissingFields(t *testing.T) {
	store := newMemStore()
	id, canonical := CanonicalID("Corvus corax")
	store.species[id] = &datastore.Species{
		ID:             id,
		ScientificName: canonical,
		CommonName:     "Common Raven",
	}

	resolver := NewResolver(store,
		&fakeTaxonomy{taxon: ravenTaxon()},
		&fakeMedia{
			summary: &wikimedia.Summary{Title: "Common raven", Extract: "A large corvid."},
			media:   &wikimedia.Media{Title: "File:raven.jpg", ImageURL: "https://example.org/raven.jpg"},
		}, nil)

	report, err := resolver.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Failed)

	stored, err := store.GetSpecies(id)
	require.NoError(t, err)
	require.NotNil(t, stored.Family)
	assert.Equal(t, "Corvidae", *stored.Family)
	require.NotNil(t, stored.ImageURL)
	require.NotNil(t, stored.Summary)
	assert.NotEmpty(t, store.citations)
}
