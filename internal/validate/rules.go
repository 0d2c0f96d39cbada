package validate

import (
	"fmt"
	"strings"

	"github.com/riskcast/omen/internal/domain"
)

// RulesConfig bundles the thresholds for the built-in rules.
type RulesConfig struct {
	MinLiquidityUSD   float64  `yaml:"min_liquidity_usd"`
	Regions           []string `yaml:"regions"`
	SemanticKeywords  []string `yaml:"semantic_keywords"`
	AnomalyLiquidity  float64  `yaml:"anomaly_liquidity_usd"`
	CommodityKeywords []string `yaml:"commodity_keywords"`
}

// DefaultRulesConfig returns thresholds tuned for prediction-market
// shipping-risk coverage.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		MinLiquidityUSD: 1000,
		Regions: []string{
			"red sea", "suez", "panama", "hormuz", "malacca",
			"gibraltar", "bosporus", "taiwan strait",
		},
		SemanticKeywords: []string{
			"shipping", "freight", "port", "tanker", "container",
			"blockade", "strike", "canal", "embargo", "halt",
		},
		AnomalyLiquidity: 5000,
		CommodityKeywords: []string{
			"oil", "crude", "lng", "gas", "wheat", "grain", "copper",
		},
	}
}

// DefaultRules returns the built-in rule set in its canonical
// evaluation order.
func DefaultRules(cfg RulesConfig) []Rule {
	return []Rule{
		LiquidityRule{MinLiquidityUSD: cfg.MinLiquidityUSD},
		GeographicRule{Regions: cfg.Regions},
		SemanticRule{Keywords: cfg.SemanticKeywords},
		AnomalyRule{LowLiquidityUSD: cfg.AnomalyLiquidity},
		NewsQualityRule{},
		CommodityRule{Keywords: cfg.CommodityKeywords},
	}
}

// LiquidityRule fails events whose market cannot absorb a position.
type LiquidityRule struct {
	MinLiquidityUSD float64
}

func (LiquidityRule) Name() string { return "liquidity" }

func (r LiquidityRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	liq := event.Market.CurrentLiquidityUSD
	evidence := map[string]interface{}{
		"current_liquidity_usd": liq,
		"min_liquidity_usd":     r.MinLiquidityUSD,
	}
	if liq < r.MinLiquidityUSD {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleFailed,
			Score:    0,
			Message:  fmt.Sprintf("liquidity %.2f below minimum %.2f", liq, r.MinLiquidityUSD),
			Evidence: evidence,
		}
	}
	// Scale score with headroom above the floor, saturating at 10x.
	score := 0.5 + 0.5*min(liq/(r.MinLiquidityUSD*10), 1)
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RulePassed,
		Score:    score,
		Evidence: evidence,
	}
}

// GeographicRule scores region-tag matches in the event text.
type GeographicRule struct {
	Regions []string
}

func (GeographicRule) Name() string { return "geographic_relevance" }

func (r GeographicRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	text := strings.ToLower(event.Title + " " + event.Description)
	matched := make([]string, 0, 2)
	for _, region := range r.Regions {
		if strings.Contains(text, region) {
			matched = append(matched, region)
		}
	}
	evidence := map[string]interface{}{"matched_regions": matched}
	if len(matched) == 0 {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleWarning,
			Score:    0.3,
			Message:  "no configured region referenced",
			Evidence: evidence,
		}
	}
	score := min(0.6+0.2*float64(len(matched)), 1)
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RulePassed,
		Score:    score,
		Evidence: evidence,
	}
}

// SemanticRule scores domain keyword density across title and
// description.
type SemanticRule struct {
	Keywords []string
}

func (SemanticRule) Name() string { return "semantic_relevance" }

func (r SemanticRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	text := strings.ToLower(event.Title + " " + event.Description)
	hits := 0
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	evidence := map[string]interface{}{"keyword_hits": hits}
	if hits == 0 {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleWarning,
			Score:    0.25,
			Message:  "no domain keywords found",
			Evidence: evidence,
		}
	}
	score := min(0.5+0.15*float64(hits), 1)
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RulePassed,
		Score:    score,
		Evidence: evidence,
	}
}

// AnomalyRule flags suspicious probability extremes on thin markets.
// A market pinned at 0 or 1 with almost no liquidity is usually a
// stale or manipulated book, not information.
type AnomalyRule struct {
	LowLiquidityUSD float64
}

func (AnomalyRule) Name() string { return "anomaly_detection" }

func (r AnomalyRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	extreme := event.Probability <= 0.001 || event.Probability >= 0.999
	thin := event.Market.CurrentLiquidityUSD < r.LowLiquidityUSD
	evidence := map[string]interface{}{
		"probability": event.Probability,
		"thin_market": thin,
	}
	if extreme && thin {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleWarning,
			Score:    0.1,
			Message:  "probability extreme on a thin market",
			Evidence: evidence,
		}
	}
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RulePassed,
		Score:    0.8,
		Evidence: evidence,
	}
}

// NewsQualityRule gates on source metadata that marks the underlying
// news as stale or duplicated.
type NewsQualityRule struct{}

func (NewsQualityRule) Name() string { return "news_quality" }

func (r NewsQualityRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	stale := event.Metadata["news_stale"] == "true"
	dup := event.Metadata["news_duplicate"] == "true"
	evidence := map[string]interface{}{"stale": stale, "duplicate": dup}
	if stale || dup {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleFailed,
			Score:    0,
			Message:  "source metadata marks news as stale or duplicate",
			Evidence: evidence,
		}
	}
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RulePassed,
		Score:    0.7,
		Evidence: evidence,
	}
}

// CommodityRule checks that commodity-tagged events actually carry
// commodity context in their text.
type CommodityRule struct {
	Keywords []string
}

func (CommodityRule) Name() string { return "commodity_context" }

func (r CommodityRule) Evaluate(event domain.RawEvent) domain.ValidationResult {
	if event.Metadata["category"] != "commodity" {
		return domain.ValidationResult{
			RuleName: r.Name(),
			Status:   domain.RuleSkipped,
			Score:    0.5,
			Message:  "not commodity-tagged",
		}
	}
	text := strings.ToLower(event.Title + " " + event.Description)
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			return domain.ValidationResult{
				RuleName: r.Name(),
				Status:   domain.RulePassed,
				Score:    0.9,
				Evidence: map[string]interface{}{"commodity": kw},
			}
		}
	}
	return domain.ValidationResult{
		RuleName: r.Name(),
		Status:   domain.RuleWarning,
		Score:    0.2,
		Message:  "commodity-tagged event without commodity context",
	}
}
