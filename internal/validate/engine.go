// Package validate implements the ordered rule engine that scores raw
// events before they become signals.
package validate

import (
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/domain"
)

// Rule is one validation capability. Implementations are pure
// functions of the event and their static configuration: no I/O, no
// wall clock.
type Rule interface {
	Name() string
	Evaluate(event domain.RawEvent) domain.ValidationResult
}

// Policy controls how the engine reacts to a failed rule.
type Policy string

const (
	// PolicyStrict terminates on the first FAILED rule.
	PolicyStrict Policy = "strict"
	// PolicyPermissive runs every rule and judges the aggregate.
	PolicyPermissive Policy = "permissive"
)

// EngineConfig tunes the rule engine.
type EngineConfig struct {
	Policy          Policy  `yaml:"policy"`
	MinOverallScore float64 `yaml:"min_overall_score"`
}

// DefaultEngineConfig returns the engine defaults: permissive policy,
// aggregate threshold 0.5.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Policy:          PolicyPermissive,
		MinOverallScore: 0.5,
	}
}

// Outcome is the engine's verdict over all rules.
type Outcome struct {
	Passed  bool
	Reason  string
	Results []domain.ValidationResult
}

// Engine evaluates rules in registration order.
type Engine struct {
	cfg   EngineConfig
	rules []Rule
	log   zerolog.Logger
}

// NewEngine creates a rule engine. Rule order is evaluation order.
func NewEngine(cfg EngineConfig, log zerolog.Logger, rules ...Rule) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = PolicyPermissive
	}
	if cfg.MinOverallScore == 0 {
		cfg.MinOverallScore = 0.5
	}
	return &Engine{cfg: cfg, rules: rules, log: log.With().Str("component", "validate").Logger()}
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate runs every rule against the event and aggregates per the
// configured policy. Results are returned even for passing rules so
// downstream confidence scoring sees the full picture.
func (e *Engine) Evaluate(event domain.RawEvent) Outcome {
	results := make([]domain.ValidationResult, 0, len(e.rules))

	for _, rule := range e.rules {
		res := rule.Evaluate(event)
		results = append(results, res)

		if res.Status == domain.RuleFailed && e.cfg.Policy == PolicyStrict {
			e.log.Debug().Str("rule", rule.Name()).Str("event_id", event.EventID).
				Msg("strict policy: terminating on failed rule")
			return Outcome{Passed: false, Reason: rule.Name(), Results: results}
		}
	}

	var sum float64
	counted := 0
	for _, r := range results {
		if r.Status == domain.RuleSkipped {
			continue
		}
		sum += r.Score
		counted++
	}

	for _, r := range results {
		if r.Status == domain.RuleFailed {
			return Outcome{Passed: false, Reason: r.RuleName, Results: results}
		}
	}

	if counted > 0 && sum/float64(counted) < e.cfg.MinOverallScore {
		return Outcome{Passed: false, Reason: "overall_score", Results: results}
	}

	return Outcome{Passed: true, Results: results}
}
