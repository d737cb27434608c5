package alerting

import (
	"context"
	"log/slog"

	"github.com/rioncm/birdsong-go/internal/conf"
	"github.com/rioncm/birdsong-go/internal/errors"
)

// Engine runs the configured rules against each detection and
// broadcasts resulting events synchronously, in rule order.
type Engine struct {
	rules     []Rule
	history   History
	publisher Publisher
	logger    *slog.Logger
}

// NewEngine creates an engine with the given rules. A nil publisher
// drops events after logging them.
func NewEngine(rules []Rule, history History, publisher Publisher) *Engine {
	return &Engine{
		rules:     rules,
		history:   history,
		publisher: publisher,
		logger:    logger,
	}
}

// RulesFromSettings builds the enabled rules in their fixed evaluation
// order: rare species, first detection, first return.
func RulesFromSettings(settings *conf.AlertSettings) ([]Rule, error) {
	var rules []Rule
	if settings.RareSpecies.Enabled {
		rules = append(rules, NewRareSpeciesRule(
			settings.RareSpecies.ScientificNames,
			settings.RareSpecies.CommonNames))
	}
	if settings.FirstDetection.Enabled {
		rules = append(rules, &FirstDetectionRule{})
	}
	if settings.FirstReturn.Enabled {
		period, err := ParsePeriod(settings.FirstReturn.Period)
		if err != nil {
			return nil, err
		}
		rules = append(rules, NewFirstReturnRule(period))
	}
	return rules, nil
}

// Process evaluates every rule for one detection. Rules run in order;
// a rule error or panic is logged and skipped, never propagated.
// Returns the events that were produced, published or not.
func (e *Engine) Process(ctx context.Context, det *Detection) []Event {
	var all []Event
	for _, rule := range e.rules {
		events := e.evaluate(ctx, rule, det)
		for i := range events {
			e.publish(ctx, &events[i])
		}
		all = append(all, events...)
	}
	return all
}

func (e *Engine) evaluate(ctx context.Context, rule Rule, det *Detection) (events []Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("alert rule panicked",
				"rule", rule.Name(),
				"species_id", det.SpeciesID,
				"panic", r)
			events = nil
		}
	}()

	events, err := rule.Evaluate(ctx, det, e.history)
	if err != nil {
		e.logger.Warn("alert rule failed",
			"rule", rule.Name(),
			"species_id", det.SpeciesID,
			"error", err.Error())
		return nil
	}
	return events
}

func (e *Engine) publish(ctx context.Context, event *Event) {
	e.logger.Info("alert event",
		"rule", event.Rule,
		"species_id", event.SpeciesID,
		"scientific_name", event.ScientificName,
		"message", event.Message)

	if e.publisher == nil {
		return
	}
	if err := e.publisher.Broadcast(ctx, *event); err != nil {
		// Best-effort delivery: a publisher failure never reaches the
		// ingest pipeline.
		enhanced := errors.New(err).
			Component("alerting").
			Category(errors.CategoryBroadcast).
			Context("rule", event.Rule).
			Build()
		e.logger.Warn("alert broadcast failed", "error", enhanced.Error())
	}
}
