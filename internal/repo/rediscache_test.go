package repo

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/omen/internal/domain"
)

// unreachableRedis returns a client whose every command fails fast.
// The cache contract says that must be invisible to callers.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisCache_FallsThroughWhenRedisDown(t *testing.T) {
	inner := NewMemory(10)
	cache := NewRedisCache(inner, unreachableRedis(), time.Minute, zerolog.Nop())
	ctx := context.Background()

	s := cacheSignal("OMEN-0000000001", "hash000000000001")
	require.NoError(t, cache.Save(ctx, s), "redis outage must not fail the save")

	got, err := cache.FindByID(ctx, s.SignalID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	got, err = cache.FindByHash(ctx, s.InputEventHash)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRedisCache_InnerErrorsSurface(t *testing.T) {
	inner := NewMemory(10)
	cache := NewRedisCache(inner, unreachableRedis(), time.Minute, zerolog.Nop())

	_, err := cache.FindByID(context.Background(), "OMEN-MISSING999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCache_FindRecentPassesThrough(t *testing.T) {
	inner := NewMemory(10)
	cache := NewRedisCache(inner, unreachableRedis(), time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, cacheSignal("OMEN-0000000001", "hash000000000001")))
	require.NoError(t, cache.Save(ctx, cacheSignal("OMEN-0000000002", "hash000000000002")))

	recent, err := cache.FindRecent(ctx, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func cacheSignal(id, hash string) domain.Signal {
	return domain.Signal{
		SignalID:        id,
		InputEventHash:  hash,
		TraceID:         "trace-" + hash,
		GeneratedAt:     time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Probability:     0.5,
		ConfidenceLevel: domain.ConfidenceMedium,
		SourceEventID:   "pm-" + id,
		SourceSystem:    "polymarket",
	}
}
