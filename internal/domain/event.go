// Package domain holds the core types the engine moves around:
// raw market events in, validated signals out, and the records that
// tie the two together.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskcast/omen/internal/canonical"
)

// Market carries the market-level facts attached to a raw event.
type Market struct {
	Source              string  `json:"source"`
	MarketID            string  `json:"market_id"`
	TotalVolumeUSD      float64 `json:"total_volume_usd"`
	CurrentLiquidityUSD float64 `json:"current_liquidity_usd"`
}

// RawEvent is the pipeline input: one prediction-market or market-data
// event as delivered by a source adapter. Treat as immutable after
// construction; the event hash is computed over these exact values.
type RawEvent struct {
	EventID     string            `json:"event_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Probability float64           `json:"probability"`
	Market      Market            `json:"market"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EventHashLength is the truncation applied to the event fingerprint.
const EventHashLength = 16

// Hash returns the 16-hex-char content fingerprint of the event.
// Identical event bytes always produce identical hashes, across
// processes and releases.
func (e RawEvent) Hash() (string, error) {
	h, err := canonical.HashTruncated(hashableEvent(e), EventHashLength)
	if err != nil {
		return "", fmt.Errorf("event hash: %w", err)
	}
	return h, nil
}

// hashableEvent pins the key order and time encoding used for hashing,
// independent of any future churn in RawEvent's wire tags.
func hashableEvent(e RawEvent) map[string]interface{} {
	m := map[string]interface{}{
		"event_id":    e.EventID,
		"title":       e.Title,
		"description": e.Description,
		"probability": e.Probability,
		"market": map[string]interface{}{
			"source":                e.Market.Source,
			"market_id":             e.Market.MarketID,
			"total_volume_usd":      e.Market.TotalVolumeUSD,
			"current_liquidity_usd": e.Market.CurrentLiquidityUSD,
		},
		"created_at": canonical.Timestamp(e.CreatedAt),
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		m["metadata"] = meta
	}
	return m
}

// Validate rejects malformed events at the pipeline entrance.
func (e RawEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: missing event_id", ErrInvalidInput)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidInput)
	}
	if e.Probability < 0 || e.Probability > 1 {
		return fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidInput, e.Probability)
	}
	if e.Market.TotalVolumeUSD < 0 {
		return fmt.Errorf("%w: negative total_volume_usd", ErrInvalidInput)
	}
	if e.Market.CurrentLiquidityUSD < 0 {
		return fmt.Errorf("%w: negative current_liquidity_usd", ErrInvalidInput)
	}
	if strings.TrimSpace(e.Market.Source) == "" {
		return fmt.Errorf("%w: missing market.source", ErrInvalidInput)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidInput)
	}
	return nil
}
