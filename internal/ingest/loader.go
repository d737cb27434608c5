package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rioncm/birdsong-go/internal/detection"
	"github.com/rioncm/birdsong-go/internal/errors"
)

// clipPayload is the on-disk classifier result format: one clip with
// its ranked detections.
type clipPayload struct {
	RecordingID string    `json:"recording_id"`
	Path        string    `json:"path"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name"`
	CapturedAt  time.Time `json:"captured_at"`
	Detections  []struct {
		ScientificName string  `json:"scientific_name"`
		CommonName     string  `json:"common_name"`
		Confidence     float64 `json:"confidence"`
		StartOffset    float64 `json:"start_offset"`
		EndOffset      float64 `json:"end_offset"`
	} `json:"detections"`
}

// LoadClips reads classifier result files. The path may be a single
// JSON file or a directory of them.
func LoadClips(path string) ([]detection.Clip, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	if !info.IsDir() {
		clip, err := loadClipFile(path)
		if err != nil {
			return nil, err
		}
		return []detection.Clip{*clip}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	var clips []detection.Clip
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		clip, err := loadClipFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		clips = append(clips, *clip)
	}
	return clips, nil
}

func loadClipFile(path string) (*detection.Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	var payload clipPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Newf("failed to parse clip file: %v", err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	if payload.RecordingID == "" {
		return nil, errors.Newf("clip file missing recording_id").
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if payload.CapturedAt.IsZero() {
		payload.CapturedAt = time.Now()
	}

	clip := &detection.Clip{
		RecordingID: payload.RecordingID,
		Path:        payload.Path,
		SourceID:    payload.SourceID,
		SourceName:  payload.SourceName,
		CapturedAt:  payload.CapturedAt,
	}
	for _, d := range payload.Detections {
		clip.Detections = append(clip.Detections, detection.RawDetection{
			ScientificName: d.ScientificName,
			CommonName:     d.CommonName,
			Confidence:     d.Confidence,
			StartOffset:    d.StartOffset,
			EndOffset:      d.EndOffset,
		})
	}
	return clip, nil
}
