// model.go defines the persisted data model for the application.
package datastore

import "time"

// Species is the canonical species record. The primary key is a
// deterministic identifier derived from the normalized scientific
// name, so the table doubles as the durable cross-process enrichment
// cache. Enrichment fields stay null when every provider fails; a
// later resolution cycle may fill them in.
type Species struct {
	ID             string `gorm:"primaryKey;size:36"`
	ScientificName string `gorm:"uniqueIndex;size:255;not null"`
	CommonName     string `gorm:"size:255"`

	// Taxonomy from the enrichment providers; null when unresolved.
	SpeciesEpithet *string `gorm:"size:255"`
	Genus          *string `gorm:"size:255"`
	Family         *string `gorm:"size:255"`

	ImageURL  *string `gorm:"size:2048"`
	InfoURL   *string `gorm:"size:2048"`
	Summary   *string `gorm:"type:text"`
	EBirdCode *string `gorm:"size:32"`

	FirstSeen *time.Time
	LastSeen  *time.Time
	// IDDays counts distinct local calendar days with at least one
	// detection.
	IDDays int `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DataSource is one external provider contributing enrichment data.
type DataSource struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:128;not null"`
	URL  string `gorm:"size:2048"`
}

// Citation records one provider contribution to a species, keeping the
// raw payload for provenance. One row per (source, species, data type);
// rows are never overwritten across enrichment runs.
type Citation struct {
	ID        uint   `gorm:"primaryKey"`
	SourceID  uint   `gorm:"index:idx_citations_src_species_type,unique;not null"`
	SpeciesID string `gorm:"index:idx_citations_src_species_type,unique;size:36;not null"`
	// DataType is one of "taxa", "image", "copy" or "ai".
	DataType  string `gorm:"index:idx_citations_src_species_type,unique;size:16;not null"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Day is one local calendar day; idents link to it so day summaries
// have a stable anchor.
type Day struct {
	ID       uint      `gorm:"primaryKey"`
	Date     time.Time `gorm:"uniqueIndex;not null"`
	Forecast *DayForecast `gorm:"foreignKey:DayID;constraint:OnDelete:CASCADE"`
}

// DayForecast stores the day-level weather forecast fetched through
// the shared resilient client framework.
type DayForecast struct {
	ID            uint `gorm:"primaryKey"`
	DayID         uint `gorm:"uniqueIndex;not null"`
	Summary       string
	TempHighC     *float64
	TempLowC      *float64
	Precipitation *float64
	FetchedAt     time.Time
}

// Recording is one captured audio clip submitted to the classifier.
type Recording struct {
	ID         string `gorm:"primaryKey;size:128"`
	Path       string `gorm:"size:1024"`
	SourceID   string `gorm:"index;size:128"`
	SourceName string `gorm:"size:255"`
	CapturedAt time.Time
	CreatedAt  time.Time
}

// Ident is one persisted normalized detection: the chosen survivor of
// genus deduplication within a clip.
type Ident struct {
	ID          uint   `gorm:"primaryKey"`
	DayID       uint   `gorm:"index;not null"`
	SpeciesID   string `gorm:"index:idx_idents_species_detected;index:idx_idents_dedup,unique;size:36;not null"`
	RecordingID string `gorm:"index:idx_idents_dedup,unique;size:128;not null"`

	ScientificName string  `gorm:"size:255"`
	CommonName     string  `gorm:"size:255"`
	Confidence     float64 `gorm:"not null"`
	// StartOffset/EndOffset are seconds within the recording.
	StartOffset float64 `gorm:"index:idx_idents_dedup,unique"`
	EndOffset   float64

	DetectedAt time.Time `gorm:"index:idx_idents_species_detected"`
	CreatedAt  time.Time
}
