// Package alerting evaluates detections against configurable rules
// and broadcasts the resulting events. Rules are isolated from each
// other and from the ingest pipeline: a failing or panicking rule
// yields no events and nothing else.
package alerting

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rioncm/birdsong-go/internal/logging"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "alerting.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "alerting", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize alerting file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "alerting")
		closeLogger = func() error { return nil }
	}
}

// CloseLogger closes the service log file. Called once at shutdown.
func CloseLogger() error {
	if closeLogger == nil {
		return nil
	}
	return closeLogger()
}

// Detection is the slice of a persisted detection the rules see.
type Detection struct {
	SpeciesID      string
	ScientificName string
	CommonName     string
	Confidence     float64
	RecordingPath  string
	DetectedAt     time.Time
}

// Event is one triggered alert.
type Event struct {
	ID             string
	Rule           string
	Severity       string
	Message        string
	SpeciesID      string
	ScientificName string
	CommonName     string
	DetectedAt     time.Time
	CreatedAt      time.Time
	// Context carries rule-specific detail, for example the previous
	// sighting time for a return alert.
	Context map[string]string
}

// NewEvent creates an event for a rule and detection with a fresh id.
func NewEvent(rule, severity, message string, det *Detection) Event {
	return Event{
		ID:             uuid.NewString(),
		Rule:           rule,
		Severity:       severity,
		Message:        message,
		SpeciesID:      det.SpeciesID,
		ScientificName: det.ScientificName,
		CommonName:     det.CommonName,
		DetectedAt:     det.DetectedAt,
		CreatedAt:      time.Now(),
		Context:        map[string]string{},
	}
}

// History exposes the detection history reads the rules need. The
// datastore satisfies it.
type History interface {
	HasPriorDetection(speciesID string, before time.Time) (bool, error)
	LastDetectionAt(speciesID string, before time.Time) (*time.Time, error)
}

// Rule evaluates one detection and returns zero or more events.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, det *Detection, history History) ([]Event, error)
}

// Publisher delivers events. Implementations must tolerate concurrent
// calls; delivery failures are the engine's to log, not to retry.
type Publisher interface {
	Broadcast(ctx context.Context, event Event) error
}
