package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	"carewatch/internal/types"
)

// RunError is a fatal monitoring run failure. Stage is the state the run was
// in when it aborted.
type RunError struct {
	Stage types.RunState
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("monitoring run failed during %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Pipeline drives one monitoring run through
// idle -> evaluating -> case_reconciliation -> alerting -> idle.
// A Pipeline holds no per-run state, so one value serves every run.
type Pipeline struct {
	Monitor Monitor
	Cases   CaseCreator
	Alerts  AlertSender

	// History and Metrics are optional.
	History RunRecorder
	Metrics Metrics

	Clock  types.Clock
	Logger *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to types.RunState)
}

// run is the state of one in-flight run.
type run struct {
	p     *Pipeline
	state types.RunState
}

func (r *run) transition(to types.RunState) {
	from := r.state
	r.state = to
	if r.p.OnTransition != nil {
		r.p.OnTransition(from, to)
	}
}

// Run executes one monitoring run and returns its summary. A fatal failure
// returns a *RunError and no summary. Case creation and alert delivery
// failures are partial: they are counted in the summary.
func (p *Pipeline) Run(ctx context.Context) (*types.RunSummary, error) {
	clock := p.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := types.LoggerFromContext(ctx, p.Logger)

	r := &run{p: p, state: types.RunStateIdle}
	summary := &types.RunSummary{StartedAt: clock.Now()}
	trigger := types.GetTrigger(ctx)

	historyID := p.startHistory(ctx, logger, trigger)

	fail := func(err error) (*types.RunSummary, error) {
		stage := r.state
		r.transition(types.RunStateIdle)
		metrics.RunFailed(ctx, stage)
		p.finishHistory(ctx, logger, historyID, types.RunStatusFailed, summary.Monitored, err)
		logger.ErrorContext(ctx, "monitoring run failed",
			"stage", string(stage),
			"trigger", string(trigger),
			"error", err,
		)
		return nil, &RunError{Stage: stage, Err: err}
	}

	// Evaluating
	r.transition(types.RunStateEvaluating)
	results, stats, err := p.Monitor.MonitorAllPatients(ctx)
	if err != nil {
		return fail(err)
	}
	summary.Monitored = stats.Monitored
	summary.Skipped = stats.Skipped
	SortBySeverity(results)
	for _, res := range results {
		summary.CountLevel(res.RiskLevel)
	}

	// Case reconciliation
	r.transition(types.RunStateCaseReconciliation)
	for _, res := range results {
		if !res.RiskLevel.RequiresCase() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		_, created, err := p.Cases.CreateCriticalCaseIfNeeded(ctx, res.PatientID, res)
		switch {
		case err != nil:
			summary.CaseFailures++
			logger.ErrorContext(ctx, "critical case creation failed",
				"patient_id", res.PatientID,
				"risk_level", string(res.RiskLevel),
				"error", err,
			)
		case created:
			summary.CasesCreated++
		default:
			summary.CasesExisting++
		}
	}

	// Alerting
	r.transition(types.RunStateAlerting)
	report := p.Alerts.SendMonitoringAlerts(ctx, results)
	summary.AlertsSent = report.Sent
	summary.AlertsFailed = report.Failed

	r.transition(types.RunStateIdle)
	summary.Results = results
	summary.FinishedAt = clock.Now()

	duration := summary.FinishedAt.Sub(summary.StartedAt)
	metrics.RunCompleted(ctx, summary, duration)
	p.finishHistory(ctx, logger, historyID, types.RunStatusSuccess, summary.Monitored, nil)

	logger.InfoContext(ctx, "monitoring run complete",
		"trigger", string(trigger),
		"monitored", summary.Monitored,
		"skipped", summary.Skipped,
		"critical", summary.Critical,
		"high", summary.High,
		"cases_created", summary.CasesCreated,
		"case_failures", summary.CaseFailures,
		"alerts_sent", summary.AlertsSent,
		"alerts_failed", summary.AlertsFailed,
		"duration_ms", duration.Milliseconds(),
	)
	return summary, nil
}

// startHistory records the run start. It returns 0 when history is disabled
// or the write failed; history never blocks a run.
func (p *Pipeline) startHistory(ctx context.Context, logger *slog.Logger, trigger types.Trigger) int64 {
	if p.History == nil {
		return 0
	}
	id, err := p.History.Start(ctx, string(trigger))
	if err != nil {
		logger.WarnContext(ctx, "failed to start run history", "error", err)
		return 0
	}
	return id
}

func (p *Pipeline) finishHistory(ctx context.Context, logger *slog.Logger, id int64, status string, items int, runErr error) {
	if p.History == nil || id == 0 {
		return
	}
	// The run context may already be cancelled; history is best effort.
	if err := p.History.Finish(context.WithoutCancel(ctx), id, status, items, runErr); err != nil {
		logger.WarnContext(ctx, "failed to finish run history", "run_id", id, "error", err)
	}
}
