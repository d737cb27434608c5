// Package ingest coordinates per-clip detection processing: normalize
// the classifier output, resolve each surviving species, persist the
// detections and evaluate alert rules. Clips are processed by a
// bounded pool of workers; one clip's failure never stops a batch and
// one species' failure never stops its clip.
package ingest

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rioncm/birdsong-go/internal/alerting"
	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/datastore"
	"github.com/rioncm/birdsong-go/internal/detection"
	"github.com/rioncm/birdsong-go/internal/logging"
	"github.com/rioncm/birdsong-go/internal/species"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "ingest.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "ingest", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize ingest file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "ingest")
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

// Report aggregates the outcome of a batch.
type Report struct {
	Clips      int
	Persisted  int
	Duplicates int
	Skipped    int
	Alerts     int
}

func (r *Report) add(other *Report) {
	r.Clips += other.Clips
	r.Persisted += other.Persisted
	r.Duplicates += other.Duplicates
	r.Skipped += other.Skipped
	r.Alerts += other.Alerts
}

// Pipeline wires the normalizer, resolver, store and alert engine.
type Pipeline struct {
	confidenceFloor float64
	workers         int

	store    datastore.Interface
	resolver *species.Resolver
	alerts   *alerting.Engine
	logger   *slog.Logger
}

// New creates a pipeline. The alert engine may be nil when alerting is
// disabled.
func New(settings *conf.Settings, store datastore.Interface, resolver *species.Resolver, alerts *alerting.Engine) *Pipeline {
	workers := settings.Ingest.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		confidenceFloor: settings.Ingest.ConfidenceFloor,
		workers:         workers,
		store:           store,
		resolver:        resolver,
		alerts:          alerts,
		logger:          logger,
	}
}

// ProcessBatch runs the clips through the worker pool. The batch
// finishes even when individual clips fail; the first clip error is
// returned alongside the report after all workers drain.
func (p *Pipeline) ProcessBatch(ctx context.Context, clips []detection.Clip) (*Report, error) {
	report := &Report{}
	var mu sync.Mutex
	var firstErr error

	var group errgroup.Group
	group.SetLimit(p.workers)

	for i := range clips {
		clip := &clips[i]
		group.Go(func() error {
			clipReport, err := p.ProcessClip(ctx, clip)
			mu.Lock()
			defer mu.Unlock()
			report.add(clipReport)
			if err != nil {
				p.logger.Error("clip processing failed",
					"recording_id", clip.RecordingID,
					"error", err.Error())
				if firstErr == nil {
					firstErr = err
				}
			}
			return nil
		})
	}

	_ = group.Wait()
	return report, firstErr
}

// ProcessClip handles one clip end to end.
func (p *Pipeline) ProcessClip(ctx context.Context, clip *detection.Clip) (*Report, error) {
	report := &Report{Clips: 1}

	normalized := detection.Normalize(clip.Detections, p.confidenceFloor)
	if len(normalized) == 0 {
		return report, nil
	}

	dayID, err := p.store.EnsureDay(clip.CapturedAt)
	if err != nil {
		return report, err
	}
	err = p.store.EnsureRecording(&datastore.Recording{
		ID:         clip.RecordingID,
		Path:       clip.Path,
		SourceID:   clip.SourceID,
		SourceName: clip.SourceName,
		CapturedAt: clip.CapturedAt,
	})
	if err != nil {
		return report, err
	}

	for i := range normalized {
		det := &normalized[i]
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		// A failing species skips this detection only; the clip's
		// other detections still land.
		if err := p.processDetection(ctx, clip, dayID, det, report); err != nil {
			p.logger.Warn("detection skipped",
				"recording_id", clip.RecordingID,
				"scientific_name", det.Raw.ScientificName,
				"error", err.Error())
			report.Skipped++
		}
	}
	return report, nil
}

func (p *Pipeline) processDetection(ctx context.Context, clip *detection.Clip, dayID uint, det *detection.NormalizedDetection, report *Report) error {
	resolved, err := p.resolver.Resolve(ctx, det.Raw.ScientificName, det.Raw.CommonName)
	if err != nil {
		return err
	}
	record := resolved.Species

	detectedAt := clip.CapturedAt.Add(time.Duration(det.Raw.StartOffset * float64(time.Second)))
	created, err := p.store.InsertIdent(&datastore.Ident{
		DayID:          dayID,
		SpeciesID:      record.ID,
		RecordingID:    clip.RecordingID,
		ScientificName: record.ScientificName,
		CommonName:     record.CommonName,
		Confidence:     det.Raw.Confidence,
		StartOffset:    det.Raw.StartOffset,
		EndOffset:      det.Raw.EndOffset,
		DetectedAt:     detectedAt,
	})
	if err != nil {
		return err
	}
	if !created {
		// Replayed clip; the ident already exists and alerts already
		// fired for it.
		report.Duplicates++
		return nil
	}
	report.Persisted++

	if err := p.store.UpdateSpeciesDetectionStats(record.ID, detectedAt); err != nil {
		p.logger.Warn("failed to update species detection stats",
			"species_id", record.ID, "error", err.Error())
	}

	if p.alerts != nil {
		events := p.alerts.Process(ctx, &alerting.Detection{
			SpeciesID:      record.ID,
			ScientificName: record.ScientificName,
			CommonName:     record.CommonName,
			Confidence:     det.Raw.Confidence,
			RecordingPath:  clip.Path,
			DetectedAt:     detectedAt,
		})
		report.Alerts += len(events)
	}
	return nil
}
