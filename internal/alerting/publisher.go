package alerting

import (
	"context"
	"io"
	"log"
	"log/slog"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/rioncm/birdsong-go/internal/errors"
)

// LogPublisher writes events to the service log. It is the default
// when no push URLs are configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-backed publisher. A nil logger falls
// back to the package service logger.
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger
	}
	return &LogPublisher{logger: l}
}

// Broadcast implements Publisher.
func (p *LogPublisher) Broadcast(_ context.Context, event Event) error {
	p.logger.Info("alert",
		"rule", event.Rule,
		"severity", event.Severity,
		"species_id", event.SpeciesID,
		"scientific_name", event.ScientificName,
		"common_name", event.CommonName,
		"detected_at", event.DetectedAt.Format(time.RFC3339),
		"message", event.Message)
	return nil
}

// PushPublisher delivers events through shoutrrr service URLs. One
// sender covers all configured URLs.
type PushPublisher struct {
	sender *router.ServiceRouter
}

// NewPushPublisher validates the URLs and builds the sender.
func NewPushPublisher(urls []string, timeout time.Duration) (*PushPublisher, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &PushPublisher{sender: sender}, nil
}

// Broadcast implements Publisher. The first delivery error is
// returned; remaining services still receive the event.
func (p *PushPublisher) Broadcast(_ context.Context, event Event) error {
	params := stypes.Params{}
	params.SetTitle("BirdSong: " + event.Rule)

	errs := p.sender.Send(event.Message, &params)
	for _, err := range errs {
		if err != nil {
			return errors.New(err).
				Component("alerting").
				Category(errors.CategoryBroadcast).
				Context("rule", event.Rule).
				Build()
		}
	}
	return nil
}

// MultiPublisher fans out to several publishers, collecting the first
// error.
type MultiPublisher []Publisher

// Broadcast implements Publisher.
func (m MultiPublisher) Broadcast(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Broadcast(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
