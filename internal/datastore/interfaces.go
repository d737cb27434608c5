// interfaces.go defines the narrow store interface the pipeline uses,
// so the core has no direct schema coupling.
package datastore

import (
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/logging"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	// Species records. UpsertSpecies is an atomic insert-or-ignore
	// keyed by the canonical id; it reports whether the row was
	// created and always returns the stored row.
	GetSpecies(id string) (*Species, error)
	GetSpeciesByScientificName(scientificName string) (*Species, error)
	UpsertSpecies(species *Species) (created bool, stored *Species, err error)
	UpdateSpeciesEnrichment(species *Species) error
	SpeciesMissingEnrichment() ([]Species, error)

	// Citations. Insert-or-ignore keyed by (source, species, type).
	GetDataSourceID(name string) (uint, error)
	EnsureDataSource(name, url string) (uint, error)
	InsertCitation(citation *Citation) error

	// Detection persistence.
	EnsureDay(date time.Time) (uint, error)
	EnsureRecording(recording *Recording) error
	InsertIdent(ident *Ident) (created bool, err error)
	UpdateSpeciesDetectionStats(speciesID string, detectedAt time.Time) error

	// Detection history, read by the alert rule context.
	HasPriorDetection(speciesID string, before time.Time) (bool, error)
	LastDetectionAt(speciesID string, before time.Time) (*time.Time, error)

	// Weather.
	SaveDayForecast(forecast *DayForecast) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// New creates a store based on the output settings. Only SQLite is
// supported at the moment.
func New(settings *conf.Settings) Interface {
	if !settings.Output.SQLite.Enabled {
		return nil
	}
	return &SQLiteStore{
		path:  settings.Output.SQLite.Path,
		debug: settings.Debug,
	}
}

// serviceLogger returns the datastore's structured logger, falling
// back to the slog default when logging was not initialized.
func serviceLogger() *slog.Logger {
	if l := logging.ForService("datastore"); l != nil {
		return l
	}
	return slog.Default()
}

func gormLogLevel(debug bool) gormlogger.LogLevel {
	if debug {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

// autoMigrate creates or updates the schema for all entities.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Species{},
		&DataSource{},
		&Citation{},
		&Day{},
		&DayForecast{},
		&Recording{},
		&Ident{},
	)
}
