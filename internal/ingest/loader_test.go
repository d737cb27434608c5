package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ravenClipJSON = `{
	"recording_id": "rec-001",
	"path": "/clips/rec-001.wav",
	"source_id": "mic-01",
	"source_name": "Backyard",
	"captured_at": "2026-06-01T06:30:00Z",
	"detections": [
		{"scientific_name": "Corvus corax", "common_name": "Common Raven", "confidence": 0.91, "start_offset": 3, "end_offset": 6},
		{"scientific_name": "Turdus merula", "confidence": 0.42, "start_offset": 6, "end_offset": 9}
	]
}`

func writeClipFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadClipsSingleFile(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "rec-001.json", ravenClipJSON)

	clips, err := LoadClips(path)
	require.NoError(t, err)
	require.Len(t, clips, 1)

	clip := clips[0]
	assert.Equal(t, "rec-001", clip.RecordingID)
	assert.Equal(t, "/clips/rec-001.wav", clip.Path)
	assert.Equal(t, "mic-01", clip.SourceID)
	assert.Equal(t, time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC), clip.CapturedAt)
	require.Len(t, clip.Detections, 2)
	assert.Equal(t, "Corvus corax", clip.Detections[0].ScientificName)
	assert.Equal(t, "Common Raven", clip.Detections[0].CommonName)
	assert.InDelta(t, 0.91, clip.Detections[0].Confidence, 1e-9)
	assert.InDelta(t, 3, clip.Detections[0].StartOffset, 1e-9)
}

func TestLoadClipsDirectorySkipsNonJSON(t *testing.T) {
	dir := t.TempDir()
	writeClipFile(t, dir, "rec-001.json", ravenClipJSON)
	writeClipFile(t, dir, "rec-002.JSON", `{"recording_id": "rec-002", "detections": []}`)
	writeClipFile(t, dir, "notes.txt", "not a clip")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	clips, err := LoadClips(dir)
	require.NoError(t, err)
	assert.Len(t, clips, 2, "case-insensitive .json match, other entries ignored")
}

func TestLoadClipsMissingRecordingID(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "bad.json", `{"detections": []}`)

	_, err := LoadClips(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording_id")
}

func TestLoadClipsMalformedJSON(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "bad.json", `{"recording_id": `)

	_, err := LoadClips(path)
	require.Error(t, err)
}

func TestLoadClipsMissingPath(t *testing.T) {
	_, err := LoadClips(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadClipsZeroCapturedAtDefaultsToNow(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "rec.json", `{"recording_id": "rec-003"}`)

	before := time.Now()
	clips, err := LoadClips(path)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.False(t, clips[0].CapturedAt.Before(before))
}
