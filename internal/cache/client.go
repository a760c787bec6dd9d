// Package cache holds the Redis-backed helpers: a read-through cache for
// the monitoring settings row and the fixed-window store behind the cron
// endpoint rate limiter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"carewatch/internal/config"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "carewatch:"

// NewClient creates a Redis client from cfg and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Unmask(),
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
