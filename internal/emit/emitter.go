// Package emit implements the dual-path emitter: ledger first, then
// best-effort hot-path delivery to the consumer.
package emit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/consumer"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/ledger"
	"github.com/riskcast/omen/internal/metrics"
	"github.com/riskcast/omen/internal/repo"
	"github.com/riskcast/omen/internal/resilience"
)

// Ingester is the slice of the consumer client the emitter needs.
type Ingester interface {
	Ingest(ctx context.Context, signal domain.Signal, replaySource string) (consumer.Ack, error)
}

// Config tunes the emitter.
type Config struct {
	Breaker resilience.BreakerConfig `yaml:"breaker"`
	Publish resilience.RetryPolicy   `yaml:"publish_retry"`
}

// DefaultConfig returns the emitter defaults.
func DefaultConfig() Config {
	return Config{
		Breaker: resilience.DefaultBreakerConfig("consumer"),
		Publish: resilience.PublishRetryPolicy(),
	}
}

// Emitter writes each signal to the ledger, then attempts hot-path
// delivery. The ledger copy is authoritative: hot-path failures are
// returned as statuses, never as errors, and reconciliation closes
// the gap later.
type Emitter struct {
	writer   *ledger.Writer
	ingester Ingester
	repos    repo.SignalRepository
	breaker  *resilience.Breaker
	publish  resilience.RetryPolicy
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates an emitter. repos may be nil when the caller maintains
// the repository itself.
func New(cfg Config, writer *ledger.Writer, ingester Ingester, repos repo.SignalRepository,
	clk clock.Clock, m *metrics.Metrics, log zerolog.Logger) *Emitter {

	// 4xx answers are the consumer speaking, not the consumer being
	// down; they must not trip the breaker.
	isFailure := func(err error) bool {
		var se *consumer.StatusError
		if errors.As(err, &se) {
			return se.StatusCode >= 500
		}
		return err != nil
	}

	return &Emitter{
		writer:   writer,
		ingester: ingester,
		repos:    repos,
		breaker:  resilience.NewBreaker(cfg.Breaker, isFailure, log),
		publish:  cfg.Publish,
		clock:    clk,
		metrics:  m,
		log:      log.With().Str("component", "emitter").Logger(),
	}
}

// Emit appends the signal to the ledger and then posts it to the
// consumer. Only a ledger failure is fatal; every other outcome is a
// status. The signal is never mutated after the append.
func (e *Emitter) Emit(ctx context.Context, signal domain.Signal) domain.EmitResult {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.EmitLatency.Observe(time.Since(start).Seconds())
		}
	}()

	now := e.clock.Now()
	signal.EmittedAt = &now

	partitionID, offset, err := e.writer.Append(signal)
	if err != nil {
		e.log.Error().Err(err).Str("signal_id", signal.SignalID).Msg("ledger append failed")
		return e.finish(domain.EmitResult{Status: domain.EmitLedgerFailed, Err: err})
	}
	if e.metrics != nil {
		e.metrics.LedgerFrames.Inc()
	}

	if e.repos != nil {
		// Best-effort: the ledger already holds the emitted_at stamp.
		if err := e.repos.Save(ctx, signal); err != nil {
			e.log.Warn().Err(err).Str("signal_id", signal.SignalID).Msg("repository update failed after append")
		}
	}

	result := domain.EmitResult{PartitionID: partitionID, LedgerOffset: offset}

	var ack consumer.Ack
	err = resilience.Retry(ctx, e.publish, func(ctx context.Context) error {
		return e.breaker.Execute(func() error {
			var ierr error
			ack, ierr = e.ingester.Ingest(ctx, signal, consumer.ReplayHotPath)
			if ierr != nil && !consumer.IsRetryable(ierr) {
				return resilience.NoRetry(ierr)
			}
			return ierr
		})
	})

	switch {
	case err == nil && ack.Duplicate:
		result.Status = domain.EmitDuplicate
		result.AckID = ack.AckID
	case err == nil:
		result.Status = domain.EmitDelivered
		result.AckID = ack.AckID
	case isRejection(err):
		e.log.Warn().Err(err).Str("signal_id", signal.SignalID).Msg("consumer rejected signal")
		result.Status = domain.EmitRejected
		result.Err = err
	default:
		e.log.Warn().Err(err).Str("signal_id", signal.SignalID).Msg("hot path failed, reconciliation will recover")
		result.Status = domain.EmitHotPathFailed
		result.Err = err
	}
	return e.finish(result)
}

func (e *Emitter) finish(r domain.EmitResult) domain.EmitResult {
	if e.metrics != nil {
		e.metrics.SignalsEmitted.WithLabelValues(string(r.Status)).Inc()
	}
	return r
}

// BreakerState exposes the hot-path breaker state for /status.
func (e *Emitter) BreakerState() string { return e.breaker.State() }

func isRejection(err error) bool {
	var se *consumer.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusConflict
	}
	return false
}
