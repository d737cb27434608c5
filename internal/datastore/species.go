package datastore

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rioncm/birdsong-go/internal/errors"
)

// GetSpecies returns the species row for the given canonical id, or
// nil when absent.
func (ds *DataStore) GetSpecies(id string) (*Species, error) {
	var species Species
	err := ds.DB.Where("id = ?", id).First(&species).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", id).
			Build()
	}
	return &species, nil
}

// GetSpeciesByScientificName returns the species row matching the
// scientific name case-insensitively, or nil when absent.
func (ds *DataStore) GetSpeciesByScientificName(scientificName string) (*Species, error) {
	var species Species
	err := ds.DB.Where("LOWER(scientific_name) = LOWER(?)", scientificName).First(&species).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("scientific_name", scientificName).
			Build()
	}
	return &species, nil
}

// UpsertSpecies performs an atomic insert-or-ignore keyed by the
// canonical id. Under a race the loser's insert is a no-op and the
// winner's row is returned, so all concurrent resolvers observe the
// same record. Enrichment fields of an existing row are never
// overwritten here.
func (ds *DataStore) UpsertSpecies(species *Species) (bool, *Species, error) {
	result := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(species)
	if result.Error != nil {
		return false, nil, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", species.ID).
			Build()
	}

	created := result.RowsAffected > 0
	stored, err := ds.GetSpecies(species.ID)
	if err != nil {
		return created, nil, err
	}
	if stored == nil {
		return created, nil, errors.Newf("species %s missing after upsert", species.ID).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return created, stored, nil
}

// UpdateSpeciesEnrichment fills unresolved enrichment fields of an
// existing row from a freshly enriched record. Populated fields win
// over nulls; fields already set keep their value except the info and
// summary fields, which a provider answer may replace.
func (ds *DataStore) UpdateSpeciesEnrichment(species *Species) error {
	updates := map[string]any{}
	if species.SpeciesEpithet != nil {
		updates["species_epithet"] = *species.SpeciesEpithet
	}
	if species.Genus != nil {
		updates["genus"] = *species.Genus
	}
	if species.Family != nil {
		updates["family"] = *species.Family
	}
	if species.ImageURL != nil {
		updates["image_url"] = *species.ImageURL
	}
	if species.InfoURL != nil {
		updates["info_url"] = *species.InfoURL
	}
	if species.Summary != nil {
		updates["summary"] = *species.Summary
	}
	if species.EBirdCode != nil {
		updates["ebird_code"] = *species.EBirdCode
	}
	if len(updates) == 0 {
		return nil
	}

	err := ds.DB.Model(&Species{}).Where("id = ?", species.ID).Updates(updates).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", species.ID).
			Build()
	}
	return nil
}

// SpeciesMissingEnrichment returns species rows with any unresolved
// enrichment field, for the backfill command.
func (ds *DataStore) SpeciesMissingEnrichment() ([]Species, error) {
	var species []Species
	err := ds.DB.
		Where("genus IS NULL OR family IS NULL OR image_url IS NULL OR summary IS NULL").
		Order("scientific_name").
		Find(&species).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return species, nil
}

// GetDataSourceID returns the id of the named data source, or zero
// when it does not exist.
func (ds *DataStore) GetDataSourceID(name string) (uint, error) {
	var source DataSource
	err := ds.DB.Where("name = ?", name).First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("source", name).
			Build()
	}
	return source.ID, nil
}

// EnsureDataSource creates the named data source if needed and
// returns its id.
func (ds *DataStore) EnsureDataSource(name, url string) (uint, error) {
	source := DataSource{Name: name, URL: url}
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&source).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("source", name).
			Build()
	}
	if source.ID != 0 {
		return source.ID, nil
	}
	return ds.GetDataSourceID(name)
}

// InsertCitation inserts a provider contribution record. A citation
// already present for the same (source, species, data type) is left
// untouched; species enrichment happens once.
func (ds *DataStore) InsertCitation(citation *Citation) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source_id"}, {Name: "species_id"}, {Name: "data_type"},
		},
		DoNothing: true,
	}).Create(citation).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", citation.SpeciesID).
			Context("data_type", citation.DataType).
			Build()
	}
	return nil
}
