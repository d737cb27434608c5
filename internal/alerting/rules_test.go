package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	prior    bool
	priorErr error
	lastSeen *time.Time
	lastErr  error
}

func (f *fakeHistory) HasPriorDetection(string, time.Time) (bool, error) {
	return f.prior, f.priorErr
}

func (f *fakeHistory) LastDetectionAt(string, time.Time) (*time.Time, error) {
	return f.lastSeen, f.lastErr
}

func testDetection() *Detection {
	return &Detection{
		SpeciesID:      "a0b1c2d3",
		ScientificName: "Corvus corax",
		CommonName:     "Common Raven",
		Confidence:     0.9,
		DetectedAt:     time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRareSpeciesRule(t *testing.T) {
	t.Run("matches scientific name case-insensitively", func(t *testing.T) {
		rule := NewRareSpeciesRule([]string{"corvus CORAX"}, nil)
		events, err := rule.Evaluate(context.Background(), testDetection(), nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "rare_species", events[0].Rule)
		assert.Equal(t, "listed_rare_species", events[0].Context["reason"])
	})

	t.Run("matches common name alias", func(t *testing.T) {
		rule := NewRareSpeciesRule(nil, []string{"common raven"})
		events, err := rule.Evaluate(context.Background(), testDetection(), nil)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("unlisted species is silent", func(t *testing.T) {
		rule := NewRareSpeciesRule([]string{"Bubo scandiacus"}, nil)
		events, err := rule.Evaluate(context.Background(), testDetection(), nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("empty list is silent", func(t *testing.T) {
		rule := NewRareSpeciesRule(nil, nil)
		events, err := rule.Evaluate(context.Background(), testDetection(), nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestFirstDetectionRule(t *testing.T) {
	rule := &FirstDetectionRule{}

	t.Run("no history fires", func(t *testing.T) {
		events, err := rule.Evaluate(context.Background(), testDetection(), &fakeHistory{prior: false})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "first_detection", events[0].Rule)
	})

	t.Run("prior history is silent", func(t *testing.T) {
		events, err := rule.Evaluate(context.Background(), testDetection(), &fakeHistory{prior: true})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("history error propagates to the engine", func(t *testing.T) {
		_, err := rule.Evaluate(context.Background(), testDetection(), &fakeHistory{priorErr: assert.AnError})
		assert.Error(t, err)
	})
}

func TestFirstReturnRule(t *testing.T) {
	period := Period{2, UnitMonths}
	rule := NewFirstReturnRule(period)
	det := testDetection()

	t.Run("no prior history is silent", func(t *testing.T) {
		events, err := rule.Evaluate(context.Background(), det, &fakeHistory{lastSeen: nil})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("gap longer than period fires", func(t *testing.T) {
		lastSeen := det.DetectedAt.AddDate(0, -2, -1)
		events, err := rule.Evaluate(context.Background(), det, &fakeHistory{lastSeen: &lastSeen})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "first_return", events[0].Rule)
		assert.Equal(t, lastSeen.Format(time.RFC3339), events[0].Context["last_seen"])
	})

	t.Run("gap exactly the period is silent", func(t *testing.T) {
		lastSeen := det.DetectedAt.AddDate(0, -2, 0)
		events, err := rule.Evaluate(context.Background(), det, &fakeHistory{lastSeen: &lastSeen})
		require.NoError(t, err)
		assert.Empty(t, events, "strictly-greater comparison: the boundary does not fire")
	})

	t.Run("shorter gap is silent", func(t *testing.T) {
		lastSeen := det.DetectedAt.AddDate(0, -1, 0)
		events, err := rule.Evaluate(context.Background(), det, &fakeHistory{lastSeen: &lastSeen})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
