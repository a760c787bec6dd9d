package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"carewatch/internal/types"
)

// RateLimitStore counts requests per key in fixed windows held in Redis.
type RateLimitStore struct {
	client *redis.Client
	clock  types.Clock
}

// NewRateLimitStore creates a RateLimitStore.
func NewRateLimitStore(client *redis.Client, clock types.Clock) *RateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RateLimitStore{client: client, clock: clock}
}

// IncrementAndCheck increments the counter of the window that contains now
// and reports whether the request is within limit. The key expires with its
// window.
func (s *RateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	now := s.clock.Now()
	start := now.Truncate(window)
	resetAt := start.Add(window)
	redisKey := fmt.Sprintf("%sratelimit:%s:%d", keyPrefix, key, start.Unix())

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, resetAt.Sub(now))
		return nil
	})
	if err != nil {
		return types.RateLimitResult{}, fmt.Errorf("rate limit increment: %w", err)
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return types.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
