package datastore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rioncm/birdsong-go/internal/errors"
)

// EnsureDay returns the id of the day row for the given date, creating
// it if needed. The date is truncated to a local calendar day.
func (ds *DataStore) EnsureDay(date time.Time) (uint, error) {
	dayDate := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	day := Day{Date: dayDate}
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoNothing: true,
	}).Create(&day).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("date", dayDate.Format("2006-01-02")).
			Build()
	}
	if day.ID != 0 {
		return day.ID, nil
	}

	var existing Day
	if err := ds.DB.Where("date = ?", dayDate).First(&existing).Error; err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("date", dayDate.Format("2006-01-02")).
			Build()
	}
	return existing.ID, nil
}

// EnsureRecording creates the recording row if it does not already
// exist. Existing rows are left untouched.
func (ds *DataStore) EnsureRecording(recording *Recording) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(recording).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("recording_id", recording.ID).
			Build()
	}
	return nil
}

// InsertIdent inserts one normalized detection row. A duplicate for
// the same (recording, species, start offset) is ignored; the return
// value reports whether a new row was created.
func (ds *DataStore) InsertIdent(ident *Ident) (bool, error) {
	result := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "recording_id"}, {Name: "species_id"}, {Name: "start_offset"},
		},
		DoNothing: true,
	}).Create(ident)
	if result.Error != nil {
		return false, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", ident.SpeciesID).
			Context("recording_id", ident.RecordingID).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// UpdateSpeciesDetectionStats maintains first-seen/last-seen
// timestamps and the distinct-days counter for a species. The counter
// increments only when the previous last-seen date is strictly before
// the detection's local calendar day.
func (ds *DataStore) UpdateSpeciesDetectionStats(speciesID string, detectedAt time.Time) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var species Species
		if err := tx.Where("id = ?", speciesID).First(&species).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		updates := map[string]any{}

		if species.FirstSeen == nil || detectedAt.Before(*species.FirstSeen) {
			updates["first_seen"] = detectedAt
		}

		switch {
		case species.LastSeen == nil:
			updates["last_seen"] = detectedAt
			updates["id_days"] = species.IDDays + 1
		case detectedAt.After(*species.LastSeen):
			updates["last_seen"] = detectedAt
			if localDay(detectedAt).After(localDay(*species.LastSeen)) {
				updates["id_days"] = species.IDDays + 1
			}
		}

		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&Species{}).Where("id = ?", speciesID).Updates(updates).Error
	})
}

// HasPriorDetection reports whether the species has any ident row
// detected strictly before the given time.
func (ds *DataStore) HasPriorDetection(speciesID string, before time.Time) (bool, error) {
	var count int64
	err := ds.DB.Model(&Ident{}).
		Where("species_id = ? AND detected_at < ?", speciesID, before).
		Count(&count).Error
	if err != nil {
		return false, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", speciesID).
			Build()
	}
	return count > 0, nil
}

// LastDetectionAt returns the most recent detection time for the
// species strictly before the given time, or nil when there is none.
func (ds *DataStore) LastDetectionAt(speciesID string, before time.Time) (*time.Time, error) {
	var ident Ident
	err := ds.DB.
		Where("species_id = ? AND detected_at < ?", speciesID, before).
		Order("detected_at DESC").
		First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("species_id", speciesID).
			Build()
	}
	t := ident.DetectedAt
	return &t, nil
}

// SaveDayForecast stores the forecast for a day, replacing any
// previous forecast for that day.
func (ds *DataStore) SaveDayForecast(forecast *DayForecast) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day_id"}},
		UpdateAll: true,
	}).Create(forecast).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("day_id", forecast.DayID).
			Build()
	}
	return nil
}

func localDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
