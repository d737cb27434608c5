package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCollapsesGenus(t *testing.T) {
	raw := []RawDetection{
		{ScientificName: "Corvus brachyrhynchos", Confidence: 0.7, StartOffset: 0},
		{ScientificName: "Corvus corax", Confidence: 0.9, StartOffset: 3},
		{ScientificName: "Turdus migratorius", Confidence: 0.4, StartOffset: 6},
	}

	got := Normalize(raw, 0.3)

	require.Len(t, got, 2)
	assert.Equal(t, "Corvus", got[0].Genus)
	assert.Equal(t, "Corvus corax", got[0].Raw.ScientificName)
	assert.InDelta(t, 0.9, got[0].Raw.Confidence, 1e-9)
	assert.Equal(t, "Turdus", got[1].Genus)
	assert.Equal(t, "Turdus migratorius", got[1].Raw.ScientificName)
}

func TestNormalizeConfidenceFloor(t *testing.T) {
	raw := []RawDetection{
		{ScientificName: "Sitta carolinensis", Confidence: 0.29},
		{ScientificName: "Poecile atricapillus", Confidence: 0.3},
	}

	got := Normalize(raw, 0.3)

	require.Len(t, got, 1)
	assert.Equal(t, "Poecile atricapillus", got[0].Raw.ScientificName)
}

func TestNormalizeTieBreakers(t *testing.T) {
	t.Run("earliest start offset wins on equal confidence", func(t *testing.T) {
		raw := []RawDetection{
			{ScientificName: "Corvus corax", Confidence: 0.8, StartOffset: 6},
			{ScientificName: "Corvus brachyrhynchos", Confidence: 0.8, StartOffset: 3},
		}
		got := Normalize(raw, 0.3)
		require.Len(t, got, 1)
		assert.Equal(t, "Corvus brachyrhynchos", got[0].Raw.ScientificName)
	})

	t.Run("lexicographic name wins on full tie", func(t *testing.T) {
		raw := []RawDetection{
			{ScientificName: "Corvus corax", Confidence: 0.8, StartOffset: 3},
			{ScientificName: "Corvus brachyrhynchos", Confidence: 0.8, StartOffset: 3},
		}
		got := Normalize(raw, 0.3)
		require.Len(t, got, 1)
		assert.Equal(t, "Corvus brachyrhynchos", got[0].Raw.ScientificName)
	})
}

func TestNormalizeDeterministicOrder(t *testing.T) {
	raw := []RawDetection{
		{ScientificName: "Zenaida macroura", Confidence: 0.5},
		{ScientificName: "Agelaius phoeniceus", Confidence: 0.5},
		{ScientificName: "Cardinalis cardinalis", Confidence: 0.5},
	}

	for range 20 {
		got := Normalize(raw, 0.3)
		require.Len(t, got, 3)
		assert.Equal(t, "Agelaius", got[0].Genus)
		assert.Equal(t, "Cardinalis", got[1].Genus)
		assert.Equal(t, "Zenaida", got[2].Genus)
	}
}

func TestNormalizeEmptyAndMalformed(t *testing.T) {
	assert.Empty(t, Normalize(nil, 0.3))
	assert.Empty(t, Normalize([]RawDetection{{ScientificName: "   ", Confidence: 0.9}}, 0.3))
}
