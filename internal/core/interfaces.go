package core

import (
	"context"
	"time"

	"carewatch/internal/types"
)

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis fixed windows (cache.RateLimitStore).
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the rate limit counter for the
	// given key and checks if the limit has been exceeded within the window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// MetricsCollector defines the interface for recording API telemetry.
// Implemented by telemetry.Prometheus.
type MetricsCollector interface {
	// RecordRequest records one request. route is the matched chi pattern.
	RecordRequest(method, route, status string, duration time.Duration)
}

// HealthProbe defines the interface for a subsystem health check.
// Each probe represents a dependency (database, redis) that must be
// operational for the service to function correctly.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe (e.g., "database").
	Name() string

	// Check performs the health check against the subsystem.
	// It should respect the context deadline and return an error if the subsystem
	// is unhealthy or unreachable.
	Check(ctx context.Context) error
}

// ProbeFunc adapts a ping function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

// Name implements HealthProbe.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Check implements HealthProbe.
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }
