package validate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/domain"
)

func marketEvent(liquidity float64) domain.RawEvent {
	return domain.RawEvent{
		EventID:     "pm-1",
		Title:       "Red Sea shipping halt",
		Description: "Tanker traffic suspended near the Suez approach",
		Probability: 0.62,
		Market: domain.Market{
			Source:              "polymarket",
			MarketID:            "m1",
			TotalVolumeUSD:      500000,
			CurrentLiquidityUSD: liquidity,
		},
		CreatedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(cfg EngineConfig) *Engine {
	return NewEngine(cfg, zerolog.Nop(), DefaultRules(DefaultRulesConfig())...)
}

func TestEngine_HappyPathScoresHigh(t *testing.T) {
	engine := newTestEngine(DefaultEngineConfig())
	out := engine.Evaluate(marketEvent(75000))

	require.True(t, out.Passed)
	require.Len(t, out.Results, 6)
	assert.Equal(t, domain.ConfidenceHigh, domain.ConfidenceFromScores(out.Results))

	// Every rule reports, including passing ones.
	names := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		names = append(names, r.RuleName)
	}
	assert.Equal(t, []string{
		"liquidity", "geographic_relevance", "semantic_relevance",
		"anomaly_detection", "news_quality", "commodity_context",
	}, names)
}

func TestEngine_LiquidityFailureRejects(t *testing.T) {
	engine := newTestEngine(DefaultEngineConfig())
	out := engine.Evaluate(marketEvent(500))

	assert.False(t, out.Passed)
	assert.Equal(t, "liquidity", out.Reason)
	// Permissive policy still runs the remaining rules.
	assert.Len(t, out.Results, 6)
}

func TestEngine_StrictPolicyShortCircuits(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Policy = PolicyStrict
	engine := newTestEngine(cfg)

	out := engine.Evaluate(marketEvent(500))
	assert.False(t, out.Passed)
	assert.Equal(t, "liquidity", out.Reason)
	assert.Len(t, out.Results, 1)
}

func TestEngine_OverallScoreThreshold(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MinOverallScore = 0.99
	engine := newTestEngine(cfg)

	out := engine.Evaluate(marketEvent(75000))
	assert.False(t, out.Passed)
	assert.Equal(t, "overall_score", out.Reason)
}

func TestNewsQualityRule_RejectsStaleNews(t *testing.T) {
	e := marketEvent(75000)
	e.Metadata = map[string]string{"news_stale": "true"}

	engine := newTestEngine(DefaultEngineConfig())
	out := engine.Evaluate(e)
	assert.False(t, out.Passed)
	assert.Equal(t, "news_quality", out.Reason)
}

func TestAnomalyRule_FlagsExtremesOnThinMarkets(t *testing.T) {
	rule := AnomalyRule{LowLiquidityUSD: 5000}

	e := marketEvent(1200)
	e.Probability = 1.0
	res := rule.Evaluate(e)
	assert.Equal(t, domain.RuleWarning, res.Status)
	assert.Less(t, res.Score, 0.2)

	e.Market.CurrentLiquidityUSD = 90000
	res = rule.Evaluate(e)
	assert.Equal(t, domain.RulePassed, res.Status)
}

func TestCommodityRule_SkipsUntaggedEvents(t *testing.T) {
	rule := CommodityRule{Keywords: []string{"oil"}}

	res := rule.Evaluate(marketEvent(75000))
	assert.Equal(t, domain.RuleSkipped, res.Status)

	e := marketEvent(75000)
	e.Metadata = map[string]string{"category": "commodity"}
	e.Title = "Crude oil tanker halted"
	res = rule.Evaluate(e)
	assert.Equal(t, domain.RulePassed, res.Status)

	e.Title = "Unrelated election market"
	e.Description = ""
	res = rule.Evaluate(e)
	assert.Equal(t, domain.RuleWarning, res.Status)
}

func TestRules_AreDeterministic(t *testing.T) {
	engine := newTestEngine(DefaultEngineConfig())
	e := marketEvent(75000)

	first := engine.Evaluate(e)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Evaluate(e))
	}
}
