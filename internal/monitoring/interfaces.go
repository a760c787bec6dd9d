package monitoring

import (
	"context"
	"time"

	"carewatch/internal/types"
)

// PatientSource abstracts the read side of the persistence layer the
// orchestrator needs. GetRecentRecords returns only records inside
// [since, asOf]. Implemented by db.PatientRepository.
type PatientSource interface {
	ListActive(ctx context.Context) ([]types.Patient, error)
	GetRecentRecords(ctx context.Context, patientID string, since, asOf time.Time) (types.PatientRecords, error)
}

// SettingsSource returns the persisted threshold overrides, or nil when none
// are stored. Implemented by db.SettingsRepository and the Redis cache.
type SettingsSource interface {
	GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error)
}

// CaseStore abstracts case persistence. InsertOpen must be atomic: it
// reports false, with no error, when another open case already exists for
// the patient. Implemented by db.CaseRepository.
type CaseStore interface {
	FindOpenByPatient(ctx context.Context, patientID string) (*types.CriticalCase, error)
	InsertOpen(ctx context.Context, c *types.CriticalCase) (bool, error)
}

// AlertChannel is one outbound staff notification mechanism.
type AlertChannel interface {
	Name() types.ChannelType
	Send(ctx context.Context, n types.AlertNotification) error
}

// RunRecorder writes the append-only run history.
// Implemented by db.RunHistoryRepository.
type RunRecorder interface {
	Start(ctx context.Context, trigger string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, runErr error) error
}

// Metrics receives run and delivery telemetry. Implemented by the telemetry
// package (Prometheus or CloudWatch).
type Metrics interface {
	RunCompleted(ctx context.Context, summary *types.RunSummary, duration time.Duration)
	RunFailed(ctx context.Context, stage types.RunState)
	AlertSent(channel types.ChannelType, ok bool)
}

// Monitor produces one result per successfully evaluated patient.
// Implemented by Orchestrator.
type Monitor interface {
	MonitorAllPatients(ctx context.Context) ([]types.MonitoringResult, OrchestrationStats, error)
}

// CaseCreator opens a case for a qualifying result. Implemented by
// CaseManager.
type CaseCreator interface {
	CreateCriticalCaseIfNeeded(ctx context.Context, patientID string, result types.MonitoringResult) (*types.CriticalCase, bool, error)
}

// AlertSender notifies staff about qualifying results. Implemented by
// Dispatcher.
type AlertSender interface {
	SendMonitoringAlerts(ctx context.Context, results []types.MonitoringResult) DispatchReport
}

type noopMetrics struct{}

func (noopMetrics) RunCompleted(context.Context, *types.RunSummary, time.Duration) {}
func (noopMetrics) RunFailed(context.Context, types.RunState)                       {}
func (noopMetrics) AlertSent(types.ChannelType, bool)                               {}
