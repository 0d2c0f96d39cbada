package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/domain"
)

// RedisCache fronts another repository with a Redis lookaside for the
// hot idempotency path. A cache miss or a Redis outage falls through
// to the inner repository; the cache never becomes a source of truth.
type RedisCache struct {
	inner  SignalRepository
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRedisCache wraps inner with a Redis recent-signal cache.
func NewRedisCache(inner SignalRepository, client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		prefix: "omen:signal:",
		log:    log.With().Str("component", "repo_cache").Logger(),
	}
}

// Save writes through to the inner repository, then best-effort
// populates the cache.
func (c *RedisCache) Save(ctx context.Context, signal domain.Signal) error {
	if err := c.inner.Save(ctx, signal); err != nil {
		return err
	}
	c.put(ctx, signal)
	return nil
}

// FindByID checks the cache, then the inner repository.
func (c *RedisCache) FindByID(ctx context.Context, signalID string) (domain.Signal, error) {
	if s, ok := c.get(ctx, c.prefix+"id:"+signalID); ok {
		return s, nil
	}
	s, err := c.inner.FindByID(ctx, signalID)
	if err == nil {
		c.put(ctx, s)
	}
	return s, err
}

// FindByHash checks the cache, then the inner repository.
func (c *RedisCache) FindByHash(ctx context.Context, inputEventHash string) (domain.Signal, error) {
	if s, ok := c.get(ctx, c.prefix+"hash:"+inputEventHash); ok {
		return s, nil
	}
	s, err := c.inner.FindByHash(ctx, inputEventHash)
	if err == nil {
		c.put(ctx, s)
	}
	return s, err
}

// FindRecent always hits the inner repository; recency queries are
// not worth caching.
func (c *RedisCache) FindRecent(ctx context.Context, limit int, since time.Time) ([]domain.Signal, error) {
	return c.inner.FindRecent(ctx, limit, since)
}

func (c *RedisCache) get(ctx context.Context, key string) (domain.Signal, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug().Err(err).Str("key", key).Msg("cache read failed, falling through")
		}
		return domain.Signal{}, false
	}
	var s domain.Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache entry corrupt, falling through")
		return domain.Signal{}, false
	}
	return s, true
}

func (c *RedisCache) put(ctx context.Context, signal domain.Signal) {
	raw, err := json.Marshal(signal)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.prefix+"id:"+signal.SignalID, raw, c.ttl)
	pipe.Set(ctx, c.prefix+"hash:"+signal.InputEventHash, raw, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Debug().Err(err).Str("signal_id", signal.SignalID).Msg("cache write failed")
	}
}
