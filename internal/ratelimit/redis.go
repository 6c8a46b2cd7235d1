package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter implements CounterStore on a shared Redis instance. The
// INCR+EXPIRE pair runs in one transactional pipeline, so the TTL lands
// atomically with the increment.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter wraps an already-connected client. The caller owns the
// client's lifecycle.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// Incr increments the counter and applies the TTL in a single round trip.
func (s *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return incr.Val(), nil
}

// Get reads a counter; a missing key reads as 0.
func (s *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}
