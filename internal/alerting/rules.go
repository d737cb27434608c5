package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RareSpeciesRule alerts on every detection of a listed species. The
// allow-list matches scientific or common names case-insensitively.
type RareSpeciesRule struct {
	names map[string]struct{}
}

// NewRareSpeciesRule builds the rule from the configured name lists.
func NewRareSpeciesRule(scientificNames, commonNames []string) *RareSpeciesRule {
	names := make(map[string]struct{}, len(scientificNames)+len(commonNames))
	for _, name := range scientificNames {
		if key := normalizeListName(name); key != "" {
			names[key] = struct{}{}
		}
	}
	for _, name := range commonNames {
		if key := normalizeListName(name); key != "" {
			names[key] = struct{}{}
		}
	}
	return &RareSpeciesRule{names: names}
}

func (r *RareSpeciesRule) Name() string { return "rare_species" }

func (r *RareSpeciesRule) Evaluate(_ context.Context, det *Detection, _ History) ([]Event, error) {
	if len(r.names) == 0 {
		return nil, nil
	}
	_, sci := r.names[normalizeListName(det.ScientificName)]
	_, common := r.names[normalizeListName(det.CommonName)]
	if !sci && !common {
		return nil, nil
	}

	event := NewEvent(r.Name(), "info",
		fmt.Sprintf("Rare species detected: %s", displayName(det)), det)
	event.Context["reason"] = "listed_rare_species"
	return []Event{event}, nil
}

// FirstDetectionRule alerts the first time a species is ever detected.
type FirstDetectionRule struct{}

func (r *FirstDetectionRule) Name() string { return "first_detection" }

func (r *FirstDetectionRule) Evaluate(_ context.Context, det *Detection, history History) ([]Event, error) {
	prior, err := history.HasPriorDetection(det.SpeciesID, det.DetectedAt)
	if err != nil {
		return nil, err
	}
	if prior {
		return nil, nil
	}

	event := NewEvent(r.Name(), "info",
		fmt.Sprintf("First detection of %s", displayName(det)), det)
	event.Context["reason"] = "first_detection"
	return []Event{event}, nil
}

// FirstReturnRule alerts when a species reappears after an absence
// strictly longer than the configured period.
type FirstReturnRule struct {
	period Period
}

// NewFirstReturnRule builds the rule for the given absence period.
func NewFirstReturnRule(period Period) *FirstReturnRule {
	return &FirstReturnRule{period: period}
}

func (r *FirstReturnRule) Name() string { return "first_return" }

func (r *FirstReturnRule) Evaluate(_ context.Context, det *Detection, history History) ([]Event, error) {
	lastSeen, err := history.LastDetectionAt(det.SpeciesID, det.DetectedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen == nil {
		// No prior history; that is FirstDetection territory.
		return nil, nil
	}
	// The gap must exceed the period: a sighting at exactly the
	// boundary does not count as a return.
	if !det.DetectedAt.After(r.period.AddTo(*lastSeen)) {
		return nil, nil
	}

	event := NewEvent(r.Name(), "info",
		fmt.Sprintf("%s returned after more than %s", displayName(det), r.period), det)
	event.Context["reason"] = "first_return_after_period"
	event.Context["last_seen"] = lastSeen.Format(time.RFC3339)
	return []Event{event}, nil
}

func displayName(det *Detection) string {
	if det.CommonName != "" && !strings.EqualFold(det.CommonName, det.ScientificName) {
		return fmt.Sprintf("%s (%s)", det.CommonName, det.ScientificName)
	}
	return det.ScientificName
}

func normalizeListName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
