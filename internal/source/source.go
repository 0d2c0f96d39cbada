// Package source pulls raw prediction-market events from upstream
// feeds. The poller wraps a REST markets endpoint; the stream wraps a
// websocket feed. Both produce domain.RawEvent values on a channel and
// never block the pipeline on a slow upstream.
package source

import (
	"context"
	"time"

	"github.com/riskcast/omen/internal/domain"
)

// Source is one upstream feed of raw events.
type Source interface {
	// Run produces events until ctx is cancelled. It returns only on
	// cancellation or an unrecoverable error; transient upstream
	// failures are retried internally.
	Run(ctx context.Context) error
	// Events is the output channel. Closed when Run returns.
	Events() <-chan domain.RawEvent
}

// marketPayload is the upstream market document shape shared by the
// REST and websocket feeds.
type marketPayload struct {
	ID           string            `json:"id"`
	Question     string            `json:"question"`
	Description  string            `json:"description"`
	Probability  float64           `json:"probability"`
	VolumeUSD    float64           `json:"volume_usd"`
	LiquidityUSD float64           `json:"liquidity_usd"`
	Category     string            `json:"category"`
	Tags         map[string]string `json:"tags,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// toRawEvent maps one upstream market document to the pipeline's input
// shape. The upstream update time becomes the event creation time so
// identical upstream states hash identically across polls.
func toRawEvent(sourceName string, m marketPayload) domain.RawEvent {
	metadata := map[string]string{}
	for k, v := range m.Tags {
		metadata[k] = v
	}
	if m.Category != "" {
		metadata["category"] = m.Category
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return domain.RawEvent{
		EventID:     sourceName + ":" + m.ID,
		Title:       m.Question,
		Description: m.Description,
		Probability: m.Probability,
		Market: domain.Market{
			Source:              sourceName,
			MarketID:            m.ID,
			TotalVolumeUSD:      m.VolumeUSD,
			CurrentLiquidityUSD: m.LiquidityUSD,
		},
		CreatedAt: m.UpdatedAt.UTC(),
		Metadata:  metadata,
	}
}
