// Package resilience provides the circuit breaker and retry policies
// that isolate the engine from a flapping downstream.
package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	cb "github.com/sony/gobreaker"

	"github.com/riskcast/omen/internal/domain"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name             string        `yaml:"name"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls uint32        `yaml:"half_open_max_calls"`
}

// DefaultBreakerConfig returns the breaker defaults: trip after 5
// consecutive failures, stay open 60 s, probe with at most 2 calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Breaker wraps calls to one downstream. Closed counts consecutive
// failures; at the threshold it opens and fails fast; after the
// recovery timeout it half-opens and lets a bounded number of probes
// through. Any probe failure reopens it; enough successes close it.
type Breaker struct {
	cb        *cb.CircuitBreaker
	isFailure func(error) bool
	log       zerolog.Logger
}

// NewBreaker creates a circuit breaker. isFailure decides which errors
// count against the threshold; nil means every error counts.
func NewBreaker(cfg BreakerConfig, isFailure func(error) bool, log zerolog.Logger) *Breaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	blog := log.With().Str("component", "breaker").Str("name", cfg.Name).Logger()
	settings := cb.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to cb.State) {
			blog.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state change")
		},
	}
	return &Breaker{cb: cb.NewCircuitBreaker(settings), isFailure: isFailure, log: blog}
}

// Execute runs fn through the breaker. When the circuit is open it
// fails fast with domain.ErrCircuitOpen. Errors the failure predicate
// excuses are returned to the caller but count as successes for the
// breaker's bookkeeping.
func (b *Breaker) Execute(fn func() error) error {
	var excused error
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if b.isFailure(err) {
				return nil, err
			}
			excused = err
			return nil, nil
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
			return domain.ErrCircuitOpen
		}
		return err
	}
	return excused
}

// State reports the breaker state as a string (closed, half-open,
// open).
func (b *Breaker) State() string { return b.cb.State().String() }
