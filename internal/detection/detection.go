// Package detection defines the classifier output types and the
// normalizer that deduplicates raw detections by genus.
package detection

import (
	"sort"
	"strings"
	"time"
)

// RawDetection is one line of ranked classifier output for a clip.
// Ephemeral; only the per-genus survivor is persisted.
type RawDetection struct {
	ScientificName string
	CommonName     string
	// Confidence is the classifier score in [0,1].
	Confidence float64
	// StartOffset/EndOffset are seconds within the clip.
	StartOffset float64
	EndOffset   float64
}

// Genus derives the genus from the scientific name: its first token.
func (d *RawDetection) Genus() string {
	fields := strings.Fields(d.ScientificName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NormalizedDetection is the single surviving detection for one
// (clip, genus) pair. Immutable once created.
type NormalizedDetection struct {
	Genus string
	Raw   RawDetection
}

// Clip is one bounded audio segment with its classifier results and
// capture metadata.
type Clip struct {
	RecordingID string
	Path        string
	SourceID    string
	SourceName  string
	CapturedAt  time.Time
	Detections  []RawDetection
}

// Normalize deduplicates raw detections: entries below the confidence
// floor are dropped, the rest are grouped by genus and collapsed to
// the highest-confidence entry per genus. Ties break by earliest start
// offset, then lexicographically by scientific name. The result is
// sorted by genus so output is a deterministic function of input.
//
// Pure function: no I/O, no shared state.
func Normalize(raw []RawDetection, confidenceFloor float64) []NormalizedDetection {
	best := make(map[string]RawDetection)
	for _, d := range raw {
		if d.Confidence < confidenceFloor {
			continue
		}
		genus := d.Genus()
		if genus == "" {
			continue
		}
		current, ok := best[genus]
		if !ok || prefer(d, current) {
			best[genus] = d
		}
	}

	normalized := make([]NormalizedDetection, 0, len(best))
	for genus, d := range best {
		normalized = append(normalized, NormalizedDetection{Genus: genus, Raw: d})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].Genus < normalized[j].Genus
	})
	return normalized
}

// prefer reports whether candidate should replace current as the
// genus survivor.
func prefer(candidate, current RawDetection) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	if candidate.StartOffset != current.StartOffset {
		return candidate.StartOffset < current.StartOffset
	}
	return candidate.ScientificName < current.ScientificName
}
