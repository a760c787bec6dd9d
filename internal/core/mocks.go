package core

import (
	"context"
	"sync"
	"time"

	"carewatch/internal/types"
)

// --- MockRateLimitStore ---

// MockRateLimitStore implements RateLimitStore for testing. It returns
// Result and Err, unless IncrementAndCheckFunc is set.
//
// Usage:
//
//	mock := &MockRateLimitStore{
//	    Result: types.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(time.Minute)},
//	}
type MockRateLimitStore struct {
	Result types.RateLimitResult
	Err    error

	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of a single IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// IncrementAndCheck implements RateLimitStore.
func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// --- MockMetricsCollector ---

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []RequestCall
}

// RequestCall records one RecordRequest invocation.
type RequestCall struct {
	Method string
	Route  string
	Status string
}

// RecordRequest implements MetricsCollector.
func (m *MockMetricsCollector) RecordRequest(method, route, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RequestCall{Method: method, Route: route, Status: status})
}

// Compile-time interface assertions.
var (
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
