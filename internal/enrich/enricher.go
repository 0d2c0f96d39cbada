// Package enrich derives geographic, temporal, and semantic context
// from raw events. Enrichment is fully deterministic: the same event
// always yields the same context and the same context hash.
package enrich

import (
	"fmt"
	"sort"
	"strings"

	"github.com/riskcast/omen/internal/canonical"
	"github.com/riskcast/omen/internal/domain"
)

// Config holds the enricher's static lookup tables.
type Config struct {
	RegionTags    map[string]string `yaml:"region_tags"`    // keyword -> tag
	SemanticTags  map[string]string `yaml:"semantic_tags"`  // keyword -> class
	DefaultClass  string            `yaml:"default_class"`
}

// DefaultConfig returns lookup tables for maritime trade coverage.
func DefaultConfig() Config {
	return Config{
		RegionTags: map[string]string{
			"red sea":        "red_sea",
			"suez":           "suez_canal",
			"panama":         "panama_canal",
			"hormuz":         "strait_of_hormuz",
			"malacca":        "strait_of_malacca",
			"gibraltar":      "gibraltar",
			"bosporus":       "bosporus",
			"taiwan strait":  "taiwan_strait",
		},
		SemanticTags: map[string]string{
			"shipping":  "maritime_disruption",
			"tanker":    "maritime_disruption",
			"container": "maritime_disruption",
			"port":      "port_operations",
			"strike":    "labor_action",
			"blockade":  "conflict",
			"embargo":   "sanctions",
			"oil":       "commodity_energy",
			"lng":       "commodity_energy",
			"grain":     "commodity_agriculture",
			"wheat":     "commodity_agriculture",
		},
		DefaultClass: "general_market",
	}
}

// Enricher tags events with deterministic context.
type Enricher struct {
	cfg Config
}

// New creates an enricher with the given lookup tables.
func New(cfg Config) *Enricher {
	if cfg.DefaultClass == "" {
		cfg.DefaultClass = "general_market"
	}
	return &Enricher{cfg: cfg}
}

// Enrich derives the context record for an event.
func (en *Enricher) Enrich(event domain.RawEvent) (domain.Context, error) {
	text := strings.ToLower(event.Title + " " + event.Description)

	geo := make([]string, 0, 2)
	for keyword, tag := range en.cfg.RegionTags {
		if strings.Contains(text, keyword) {
			geo = append(geo, tag)
		}
	}
	sort.Strings(geo)

	class := en.cfg.DefaultClass
	bestKeyword := ""
	for keyword, tag := range en.cfg.SemanticTags {
		if strings.Contains(text, keyword) {
			// Ties broken by keyword order so map iteration order
			// cannot leak into the result.
			if bestKeyword == "" || keyword < bestKeyword {
				bestKeyword = keyword
				class = tag
			}
		}
	}

	ctx := domain.Context{
		GeographicTags: geo,
		TemporalBucket: temporalBucket(event),
		SemanticClass:  class,
	}

	hash, err := canonical.HashTruncated(map[string]interface{}{
		"geographic_tags": ctx.GeographicTags,
		"temporal_bucket": ctx.TemporalBucket,
		"semantic_class":  ctx.SemanticClass,
	}, 16)
	if err != nil {
		return domain.Context{}, fmt.Errorf("context hash: %w", err)
	}
	ctx.ContextHash = hash
	return ctx, nil
}

// temporalBucket buckets the event's own creation time. The injected
// engine clock is deliberately not consulted: reprocessing an old
// event must reproduce its original bucket.
func temporalBucket(event domain.RawEvent) string {
	t := event.CreatedAt.UTC()
	switch h := t.Hour(); {
	case h < 6:
		return t.Format("2006-01-02") + "/overnight"
	case h < 12:
		return t.Format("2006-01-02") + "/morning"
	case h < 18:
		return t.Format("2006-01-02") + "/afternoon"
	default:
		return t.Format("2006-01-02") + "/evening"
	}
}
