package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/domain"
)

func testEvent() domain.RawEvent {
	return domain.RawEvent{
		EventID:     "pm-1",
		Title:       "Red Sea shipping halt",
		Description: "Tanker reroutes around the Suez approach",
		Probability: 0.62,
		Market:      domain.Market{Source: "polymarket", MarketID: "m1"},
		CreatedAt:   time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
	}
}

func TestEnrich_GeographicTagsSorted(t *testing.T) {
	en := New(DefaultConfig())
	ctx, err := en.Enrich(testEvent())
	require.NoError(t, err)

	assert.Equal(t, []string{"red_sea", "suez_canal"}, ctx.GeographicTags)
}

func TestEnrich_TemporalBucketFromEventTime(t *testing.T) {
	en := New(DefaultConfig())

	e := testEvent()
	ctx, err := en.Enrich(e)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15/afternoon", ctx.TemporalBucket)

	e.CreatedAt = time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	ctx, err = en.Enrich(e)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15/overnight", ctx.TemporalBucket)
}

func TestEnrich_SemanticClassDeterministicTieBreak(t *testing.T) {
	en := New(DefaultConfig())

	// "shipping" and "tanker" both match; lowest keyword wins every run.
	e := testEvent()
	for i := 0; i < 20; i++ {
		ctx, err := en.Enrich(e)
		require.NoError(t, err)
		assert.Equal(t, "maritime_disruption", ctx.SemanticClass)
	}
}

func TestEnrich_ContextHashStable(t *testing.T) {
	en := New(DefaultConfig())
	e := testEvent()

	first, err := en.Enrich(e)
	require.NoError(t, err)
	require.Len(t, first.ContextHash, 16)

	for i := 0; i < 10; i++ {
		again, err := en.Enrich(e)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEnrich_UnmatchedEventGetsDefaults(t *testing.T) {
	en := New(DefaultConfig())
	e := testEvent()
	e.Title = "Will the election be contested"
	e.Description = ""

	ctx, err := en.Enrich(e)
	require.NoError(t, err)
	assert.Empty(t, ctx.GeographicTags)
	assert.Equal(t, "general_market", ctx.SemanticClass)
	assert.NotEmpty(t, ctx.ContextHash)
}
