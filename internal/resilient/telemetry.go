package resilient

import (
	"log/slog"
	"time"
)

// Outcome labels the result of one framework call or attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeTransient     Outcome = "transient-failure"
	OutcomeNotFound      Outcome = "not-found"
	OutcomePermanent     Outcome = "permanent-failure"
	OutcomeCircuitOpen   Outcome = "circuit-open"
	OutcomeCacheHit      Outcome = "cache-hit"
	OutcomeNegativeCache Outcome = "negative-cache-hit"
)

// RequestRecord is the structured telemetry emitted for every call
// through the framework, successful or not. Emitting these records is
// the framework's only side effect besides its return value.
type RequestRecord struct {
	Provider string
	Key      string
	Outcome  Outcome
	Attempts int
	Duration time.Duration
}

// Recorder receives request records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(rec RequestRecord)
}

// slogRecorder logs request records to a structured logger.
type slogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder returns a Recorder that writes request records to
// the given logger at debug level, failures at warn.
func NewSlogRecorder(logger *slog.Logger) Recorder {
	return &slogRecorder{logger: logger}
}

func (r *slogRecorder) Record(rec RequestRecord) {
	if r.logger == nil {
		return
	}
	attrs := []any{
		"provider", rec.Provider,
		"key", rec.Key,
		"outcome", string(rec.Outcome),
		"attempts", rec.Attempts,
		"duration_ms", rec.Duration.Milliseconds(),
	}
	switch rec.Outcome {
	case OutcomeSuccess, OutcomeCacheHit, OutcomeNegativeCache:
		r.logger.Debug("provider request", attrs...)
	default:
		r.logger.Warn("provider request failed", attrs...)
	}
}

// multiRecorder fans records out to several recorders.
type multiRecorder struct {
	recorders []Recorder
}

// MultiRecorder combines recorders; nil entries are skipped.
func MultiRecorder(recorders ...Recorder) Recorder {
	out := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return &multiRecorder{recorders: out}
}

func (m *multiRecorder) Record(rec RequestRecord) {
	for _, r := range m.recorders {
		r.Record(rec)
	}
}
