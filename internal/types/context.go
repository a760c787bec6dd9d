package types

import (
	"context"
	"log/slog"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	triggerKey   contextKey = "trigger"
	asOfKey      contextKey = "reference_time"
)

// Trigger names the entrypoint that started a monitoring run.
type Trigger string

const (
	TriggerHTTP     Trigger = "http"
	TriggerSchedule Trigger = "schedule"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored by WithLogger, or fallback
// when none is set. A nil fallback yields slog.Default().
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WithTrigger records which entrypoint started the run.
func WithTrigger(ctx context.Context, t Trigger) context.Context {
	return context.WithValue(ctx, triggerKey, t)
}

// GetTrigger returns the run trigger, defaulting to TriggerHTTP.
func GetTrigger(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey).(Trigger); ok {
		return t
	}
	return TriggerHTTP
}

// WithReferenceTime pins the evaluation instant of a run, for replays.
func WithReferenceTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, asOfKey, t.UTC())
}

// ReferenceTime returns the instant stored by WithReferenceTime.
func ReferenceTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(asOfKey).(time.Time)
	return t, ok && !t.IsZero()
}
