package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"carewatch/internal/types"
)

// DefaultSettingsTTL is used when the configured TTL is not positive.
const DefaultSettingsTTL = 5 * time.Minute

const settingsKey = keyPrefix + "settings:monitoring"

// SettingsLoader is the authoritative settings source, normally
// db.SettingsRepository.
type SettingsLoader interface {
	GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error)
}

// SettingsCache is a read-through cache in front of a SettingsLoader. A
// missing settings row is cached too, as JSON null. Redis failures are
// logged and the loader is consulted directly.
type SettingsCache struct {
	client *redis.Client
	loader SettingsLoader
	ttl    time.Duration
	logger *slog.Logger
}

// NewSettingsCache creates a SettingsCache.
func NewSettingsCache(client *redis.Client, loader SettingsLoader, ttl time.Duration, logger *slog.Logger) *SettingsCache {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsCache{client: client, loader: loader, ttl: ttl, logger: logger}
}

// GetMonitoringSettings returns the cached overrides, loading and caching
// them on a miss.
func (c *SettingsCache) GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error) {
	raw, err := c.client.Get(ctx, settingsKey).Bytes()
	switch {
	case err == nil:
		var overrides *types.ThresholdOverrides
		if uerr := json.Unmarshal(raw, &overrides); uerr == nil {
			return overrides, nil
		}
		c.logger.WarnContext(ctx, "discarding unreadable cached settings")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "settings cache read failed", "error", err)
	}

	overrides, err := c.loader.GetMonitoringSettings(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(overrides)
	if err == nil {
		err = c.client.Set(ctx, settingsKey, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "settings cache write failed", "error", err)
	}
	return overrides, nil
}

// Invalidate drops the cached settings so the next read goes to the loader.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, settingsKey).Err()
}
