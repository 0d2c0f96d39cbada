package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/domain"
)

func storedSignal(n int) domain.Signal {
	return domain.Signal{
		SignalID:        fmt.Sprintf("OMEN-%010d", n),
		InputEventHash:  fmt.Sprintf("hash%012d", n),
		TraceID:         fmt.Sprintf("trace-%d", n),
		GeneratedAt:     time.Date(2026, 1, 15, 12, 0, n, 0, time.UTC),
		Probability:     0.5,
		ConfidenceLevel: domain.ConfidenceMedium,
		ValidationScores: []domain.ValidationResult{
			{RuleName: "liquidity", Status: domain.RulePassed, Score: 0.5},
		},
		SourceEventID: fmt.Sprintf("pm-%d", n),
		SourceSystem:  "polymarket",
	}
}

func TestMemory_SaveAndLookupBothIndices(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	s := storedSignal(1)

	require.NoError(t, m.Save(ctx, s))

	byID, err := m.FindByID(ctx, s.SignalID)
	require.NoError(t, err)
	assert.Equal(t, s, byID)

	byHash, err := m.FindByHash(ctx, s.InputEventHash)
	require.NoError(t, err)
	assert.Equal(t, s, byHash)
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory(10)
	_, err := m.FindByID(context.Background(), "OMEN-MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.FindByHash(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_FIFOEvictionKeepsIndicesConsistent(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Save(ctx, storedSignal(i)))
	}
	assert.Equal(t, 3, m.Len())

	// 1 and 2 were evicted from both indices.
	for _, n := range []int{1, 2} {
		s := storedSignal(n)
		_, err := m.FindByID(ctx, s.SignalID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.FindByHash(ctx, s.InputEventHash)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	for _, n := range []int{3, 4, 5} {
		s := storedSignal(n)
		_, err := m.FindByID(ctx, s.SignalID)
		assert.NoError(t, err)
		_, err = m.FindByHash(ctx, s.InputEventHash)
		assert.NoError(t, err)
	}
}

func TestMemory_SaveSameIDIsUpsert(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	s := storedSignal(1)
	require.NoError(t, m.Save(ctx, s))

	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)
	s.EmittedAt = &now
	require.NoError(t, m.Save(ctx, s))

	assert.Equal(t, 1, m.Len())
	got, err := m.FindByID(ctx, s.SignalID)
	require.NoError(t, err)
	require.NotNil(t, got.EmittedAt)
	assert.Equal(t, now, *got.EmittedAt)
}

func TestMemory_FindRecent(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Save(ctx, storedSignal(i)))
	}

	recent, err := m.FindRecent(ctx, 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, storedSignal(5).SignalID, recent[0].SignalID)
	assert.Equal(t, storedSignal(4).SignalID, recent[1].SignalID)

	since := storedSignal(3).GeneratedAt
	recent, err = m.FindRecent(ctx, 10, since)
	require.NoError(t, err)
	assert.Len(t, recent, 2) // only 4 and 5 are strictly after 3
}
