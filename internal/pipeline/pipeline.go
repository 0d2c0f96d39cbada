// Package pipeline turns raw events into signals: validate, enrich,
// assemble, deduplicate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/enrich"
	"github.com/riskcast/omen/internal/metrics"
	"github.com/riskcast/omen/internal/repo"
	"github.com/riskcast/omen/internal/validate"
)

// Pipeline processes one event at a time; concurrent calls are safe
// because the repository guards its own state.
type Pipeline struct {
	engine   *validate.Engine
	enricher *enrich.Enricher
	repos    repo.SignalRepository
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a pipeline.
func New(engine *validate.Engine, enricher *enrich.Enricher, repos repo.SignalRepository,
	clk clock.Clock, m *metrics.Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		engine:   engine,
		enricher: enricher,
		repos:    repos,
		clock:    clk,
		metrics:  m,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs one event through validate -> enrich -> build ->
// dedupe. Validation rejections are a normal outcome reported in the
// result; only malformed input and infrastructure trouble surface as
// errors.
func (p *Pipeline) Process(ctx context.Context, event domain.RawEvent) (domain.ProcessResult, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineLatency.Observe(time.Since(start).Seconds())
		}
	}()

	if err := event.Validate(); err != nil {
		if p.metrics != nil {
			p.metrics.EventsInvalid.Inc()
		}
		return domain.ProcessResult{}, err
	}

	eventHash, err := event.Hash()
	if err != nil {
		return domain.ProcessResult{}, fmt.Errorf("hash event %s: %w", event.EventID, err)
	}

	// Idempotency contract: same event bytes, same output, no work.
	if cached, err := p.repos.FindByHash(ctx, eventHash); err == nil {
		if p.metrics != nil {
			p.metrics.EventsCached.Inc()
		}
		p.log.Debug().Str("event_id", event.EventID).Str("signal_id", cached.SignalID).
			Msg("event already processed")
		return domain.ProcessResult{Signals: []domain.Signal{cached}, Cached: true, Success: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ProcessResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	outcome := p.engine.Evaluate(event)
	if !outcome.Passed {
		if p.metrics != nil {
			p.metrics.EventsRejected.WithLabelValues(outcome.Reason).Inc()
		}
		p.log.Info().Str("event_id", event.EventID).Str("reason", outcome.Reason).
			Msg("event rejected by validation")
		return domain.ProcessResult{Success: false, RejectionReason: outcome.Reason}, nil
	}

	enriched, err := p.enricher.Enrich(event)
	if err != nil {
		return domain.ProcessResult{}, fmt.Errorf("enrich event %s: %w", event.EventID, err)
	}

	signal, err := p.buildSignal(event, eventHash, outcome.Results, enriched)
	if err != nil {
		return domain.ProcessResult{}, err
	}

	if err := p.repos.Save(ctx, signal); err != nil {
		return domain.ProcessResult{}, fmt.Errorf("save signal %s: %w", signal.SignalID, err)
	}

	if p.metrics != nil {
		p.metrics.EventsProcessed.Inc()
	}
	p.log.Debug().Str("event_id", event.EventID).Str("signal_id", signal.SignalID).
		Str("confidence", string(signal.ConfidenceLevel)).Msg("signal built")
	return domain.ProcessResult{Signals: []domain.Signal{signal}, Success: true}, nil
}

func (p *Pipeline) buildSignal(event domain.RawEvent, eventHash string,
	results []domain.ValidationResult, enriched domain.Context) (domain.Signal, error) {

	traceID, err := domain.TraceIDFromEventHash(eventHash)
	if err != nil {
		return domain.Signal{}, err
	}

	evidence := map[string]interface{}{}
	for _, r := range results {
		for k, v := range r.Evidence {
			evidence[r.RuleName+"."+k] = v
		}
	}
	if len(evidence) == 0 {
		evidence = nil
	}

	signal := domain.Signal{
		InputEventHash:   eventHash,
		TraceID:          traceID,
		GeneratedAt:      p.clock.Now(),
		Probability:      event.Probability,
		ConfidenceLevel:  domain.ConfidenceFromScores(results),
		ValidationScores: results,
		Evidence:         evidence,
		Context:          enriched,
		SourceEventID:    event.EventID,
		SourceSystem:     event.Market.Source,
	}

	id, err := signal.ComputeSignalID()
	if err != nil {
		return domain.Signal{}, err
	}
	signal.SignalID = id
	return signal, nil
}
