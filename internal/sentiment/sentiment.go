package sentiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// Provider supplies a sentiment score in [-1, 1] for a symbol. Consumers treat
// any failure or missing score as 0 (neutral).
type Provider interface {
	GetScore(ctx context.Context, symbol string) (float64, error)
}

// Static is a fixed score table, used by replay runs and tests.
type Static struct {
	mu     sync.RWMutex
	scores map[string]float64
}

func NewStatic(scores map[string]float64) *Static {
	if scores == nil {
		scores = make(map[string]float64)
	}
	return &Static{scores: scores}
}

func (s *Static) Set(symbol string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[symbol] = clampScore(score)
}

func (s *Static) GetScore(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[symbol], nil
}

// RedisCache wraps a Provider with a Redis read-through cache so one upstream
// score serves every decision cycle inside the TTL.
type RedisCache struct {
	inner Provider
	rdb   *redis.Client
	ttl   time.Duration
}

func NewRedisCache(inner Provider, addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		inner: inner,
		rdb:   redis.NewClient(&redis.Options{Addr: addr}),
		ttl:   ttl,
	}
}

func (c *RedisCache) GetScore(ctx context.Context, symbol string) (float64, error) {
	key := "sentiment:" + symbol

	score, err := c.rdb.Get(ctx, key).Float64()
	if err == nil {
		return clampScore(score), nil
	}
	if err != redis.Nil {
		// Cache trouble is not score trouble: fall through to the provider.
		observ.Warn("sentiment_cache_read_failed", map[string]any{
			"symbol": symbol, "error": err.Error(),
		})
	}

	score, err = c.inner.GetScore(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("sentiment for %s: %w", symbol, err)
	}
	score = clampScore(score)

	if err := c.rdb.Set(ctx, key, score, c.ttl).Err(); err != nil {
		observ.Warn("sentiment_cache_write_failed", map[string]any{
			"symbol": symbol, "error": err.Error(),
		})
	}
	return score, nil
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

func clampScore(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*RedisCache)(nil)
)
