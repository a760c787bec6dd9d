package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"carewatch/internal/types"
)

// DefaultConcurrency bounds parallel patient evaluations when the config
// leaves it unset.
const DefaultConcurrency = 8

// DefaultLookback is the record window fetched per patient (90 days).
const DefaultLookback = 90 * 24 * time.Hour

// OrchestratorConfig holds the tunables of a monitoring pass.
type OrchestratorConfig struct {
	Concurrency int
	Lookback    time.Duration
	// Thresholds is the base rule table. Persisted overrides are merged on
	// top of it at the start of every pass.
	Thresholds Thresholds
}

// OrchestrationStats counts patients per outcome of one pass.
type OrchestrationStats struct {
	Listed    int
	Monitored int
	Skipped   int
}

// Orchestrator evaluates every active patient. It only reads.
type Orchestrator struct {
	patients PatientSource
	settings SettingsSource
	cfg      OrchestratorConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. settings may be nil, in which case
// the base thresholds are used as-is.
func NewOrchestrator(patients PatientSource, settings SettingsSource, cfg OrchestratorConfig, clock types.Clock, logger *slog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		patients: patients,
		settings: settings,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// MonitorAllPatients lists active patients and evaluates each of them in
// parallel. Failing to list patients is fatal. A failure for one patient
// (records unavailable, malformed snapshot, panic) is logged and counted as
// skipped. The order of the returned results is unspecified.
func (o *Orchestrator) MonitorAllPatients(ctx context.Context) ([]types.MonitoringResult, OrchestrationStats, error) {
	var stats OrchestrationStats
	logger := types.LoggerFromContext(ctx, o.logger)

	patients, err := o.patients.ListActive(ctx)
	if err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeUpstreamPersistenceUnavailable, "failed to list active patients", err)
	}
	stats.Listed = len(patients)

	evaluator := NewEvaluator(o.resolveThresholds(ctx, logger))
	asOf := o.clock.Now()
	if t, ok := types.ReferenceTime(ctx); ok {
		asOf = t
	}
	since := asOf.Add(-o.cfg.Lookback)

	var mu sync.Mutex
	results := make([]types.MonitoringResult, 0, len(patients))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, p := range patients {
		p := p
		g.Go(func() error {
			res, err := o.monitorOne(gCtx, evaluator, p, since, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Skipped++
				logger.WarnContext(gCtx, "patient skipped",
					"patient_id", p.ID,
					"error", err,
				)
				return nil
			}
			stats.Monitored++
			results = append(results, res)
			return nil
		})
	}

	// Goroutines never return errors; a skipped patient must not cancel the rest.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, stats, types.NewAppError(types.ErrCodeInternalMonitoringRunFailed, "monitoring pass cancelled", err)
	}

	logger.InfoContext(ctx, "monitoring pass complete",
		"listed", stats.Listed,
		"monitored", stats.Monitored,
		"skipped", stats.Skipped,
	)
	return results, stats, nil
}

func (o *Orchestrator) monitorOne(ctx context.Context, ev *Evaluator, p types.Patient, since, asOf time.Time) (res types.MonitoringResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("panic evaluating patient: %v", r), nil)
		}
	}()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	records, err := o.patients.GetRecentRecords(ctx, p.ID, since, asOf)
	if err != nil {
		return res, fmt.Errorf("fetch records: %w", err)
	}

	snapshot := types.NewSnapshot(p, records, asOf)
	if err := snapshot.Validate(); err != nil {
		return res, err
	}
	return ev.Evaluate(snapshot), nil
}

// resolveThresholds merges persisted overrides into the base rule table. A
// settings failure or an invalid merged table falls back to the base.
func (o *Orchestrator) resolveThresholds(ctx context.Context, logger *slog.Logger) Thresholds {
	base := o.cfg.Thresholds
	if o.settings == nil {
		return base
	}

	overrides, err := o.settings.GetMonitoringSettings(ctx)
	if err != nil {
		logger.WarnContext(ctx, "monitoring settings unavailable, using configured thresholds", "error", err)
		return base
	}
	if overrides == nil {
		return base
	}

	merged := overrides.Apply(base)
	if err := merged.Validate(); err != nil {
		logger.WarnContext(ctx, "persisted monitoring settings rejected, using configured thresholds", "error", err)
		return base
	}
	return merged
}
