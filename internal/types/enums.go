package types

import (
	"encoding/json"
	"fmt"
)

// RiskLevel is the ordered classification of patient concern.
// Ordering: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AllRiskLevels lists every risk level in ascending severity.
var AllRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Severity returns the ordinal position of the level. Unknown levels rank
// below low so they can never dominate a max-severity comparison.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	return r.Severity() >= 0
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Severity() >= other.Severity()
}

// RequiresCase reports whether the level warrants a critical case and a
// staff alert (high or critical).
func (r RiskLevel) RequiresCase() bool {
	return r.AtLeast(RiskHigh)
}

// UnmarshalJSON rejects unknown risk levels.
func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lvl := RiskLevel(s)
	if !lvl.Valid() {
		return fmt.Errorf("invalid risk level %q", s)
	}
	*r = lvl
	return nil
}

// MaxRisk returns the more severe of a and b.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// CaseStatus is the lifecycle state of a CriticalCase.
// These values MUST match the CHECK constraint on critical_cases.status.
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusResolved CaseStatus = "resolved"
)

// SessionStatus is the attendance outcome of a scheduled session.
type SessionStatus string

const (
	SessionAttended  SessionStatus = "attended"
	SessionMissed    SessionStatus = "missed"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionAttended, SessionMissed, SessionCancelled:
		return true
	}
	return false
}

// RunState is a step of the monitoring run state machine.
type RunState string

const (
	RunStateIdle               RunState = "idle"
	RunStateEvaluating         RunState = "evaluating"
	RunStateCaseReconciliation RunState = "case_reconciliation"
	RunStateAlerting           RunState = "alerting"
)

// AlertKind distinguishes single-patient alerts from multi-patient digests.
type AlertKind string

const (
	AlertKindPatient AlertKind = "patient"
	AlertKindDigest  AlertKind = "digest"
)

// AlertBatchMode selects how qualifying results are grouped into notifications.
type AlertBatchMode string

const (
	BatchPerPatient AlertBatchMode = "per_patient"
	BatchDigest     AlertBatchMode = "digest"
)

// ChannelType identifies an alert delivery channel.
type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSQS      ChannelType = "sqs"
)

// Run history statuses. These values MUST match the CHECK constraint on
// monitoring_runs.status.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)
