package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Patient is one active patient as listed by the persistence layer.
type Patient struct {
	ID          string `json:"id" db:"id"`
	CenterID    string `json:"center_id" db:"center_id"`
	DisplayName string `json:"display_name" db:"display_name"`
}

// SessionRecord is one scheduled therapy session.
type SessionRecord struct {
	ScheduledAt time.Time     `json:"scheduled_at" db:"scheduled_at"`
	Status      SessionStatus `json:"status" db:"status"`
}

// MetricReading is one recorded value of a named clinical metric.
type MetricReading struct {
	Name       string    `json:"name" db:"name"`
	Value      float64   `json:"value" db:"value"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// PatientRecords is the raw data fetched for one patient inside the
// lookback window.
type PatientRecords struct {
	Sessions           []SessionRecord
	Metrics            []MetricReading
	LastContactAt      *time.Time
	UnansweredMessages *int
}

// PatientSnapshot is everything the evaluator looks at for one patient.
// Sessions and Metrics are ordered oldest first. AsOf is the evaluation
// instant and is fixed when the snapshot is assembled.
type PatientSnapshot struct {
	PatientID          string          `json:"patient_id"`
	DisplayName        string          `json:"display_name"`
	Sessions           []SessionRecord `json:"sessions"`
	Metrics            []MetricReading `json:"metrics"`
	LastContactAt      *time.Time      `json:"last_contact_at,omitempty"`
	UnansweredMessages *int            `json:"unanswered_messages,omitempty"`
	AsOf               time.Time       `json:"as_of"`
}

// NewSnapshot assembles a snapshot from a patient and its fetched records.
func NewSnapshot(p Patient, rec PatientRecords, asOf time.Time) PatientSnapshot {
	return PatientSnapshot{
		PatientID:          p.ID,
		DisplayName:        p.DisplayName,
		Sessions:           rec.Sessions,
		Metrics:            rec.Metrics,
		LastContactAt:      rec.LastContactAt,
		UnansweredMessages: rec.UnansweredMessages,
		AsOf:               asOf,
	}
}

// Validate reports structurally malformed data. Missing data is not an
// error; the evaluator skips rules whose inputs are absent.
func (s *PatientSnapshot) Validate() error {
	if s.PatientID == "" {
		return NewAppError(ErrCodeValidationMissingField, "patient_id is required", nil)
	}
	if s.AsOf.IsZero() {
		return malformed(s.PatientID, "as_of is zero")
	}
	for i, sess := range s.Sessions {
		if !sess.Status.Valid() {
			return malformed(s.PatientID, fmt.Sprintf("session %d has unknown status %q", i, sess.Status))
		}
		if sess.ScheduledAt.IsZero() {
			return malformed(s.PatientID, fmt.Sprintf("session %d has no scheduled_at", i))
		}
	}
	for i, m := range s.Metrics {
		if m.Name == "" {
			return malformed(s.PatientID, fmt.Sprintf("metric %d has no name", i))
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			return malformed(s.PatientID, fmt.Sprintf("metric %q has non-finite value", m.Name))
		}
		if m.RecordedAt.IsZero() {
			return malformed(s.PatientID, fmt.Sprintf("metric %q has no recorded_at", m.Name))
		}
	}
	if s.UnansweredMessages != nil && *s.UnansweredMessages < 0 {
		return malformed(s.PatientID, "unanswered_messages is negative")
	}
	return nil
}

func malformed(patientID, msg string) error {
	return NewAppErrorWithDetails(ErrCodeValidationMalformedSnapshot, msg, nil, map[string]any{
		"patient_id": patientID,
	})
}

// Reason is one triggered rule.
type Reason struct {
	Rule    string    `json:"rule"`
	Level   RiskLevel `json:"level"`
	Message string    `json:"message"`
}

// MonitoringResult is the evaluation outcome for one patient.
type MonitoringResult struct {
	PatientID   string
	DisplayName string
	RiskLevel   RiskLevel
	Reasons     []Reason
	EvaluatedAt time.Time
}

// ReasonMessages returns the human-readable reason strings.
func (r MonitoringResult) ReasonMessages() []string {
	out := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		out[i] = reason.Message
	}
	return out
}

type monitoringResultJSON struct {
	PatientID     string    `json:"patient_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Reasons       []string  `json:"reasons"`
	ReasonDetails []Reason  `json:"reason_details"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// MarshalJSON writes reasons as plain strings and keeps the structured
// form under reason_details.
func (r MonitoringResult) MarshalJSON() ([]byte, error) {
	details := r.Reasons
	if details == nil {
		details = []Reason{}
	}
	return json.Marshal(monitoringResultJSON{
		PatientID:     r.PatientID,
		DisplayName:   r.DisplayName,
		RiskLevel:     r.RiskLevel,
		Reasons:       r.ReasonMessages(),
		ReasonDetails: details,
		EvaluatedAt:   r.EvaluatedAt,
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *MonitoringResult) UnmarshalJSON(b []byte) error {
	var raw monitoringResultJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	reasons := raw.ReasonDetails
	if len(reasons) == 0 && len(raw.Reasons) > 0 {
		reasons = make([]Reason, len(raw.Reasons))
		for i, msg := range raw.Reasons {
			reasons[i] = Reason{Message: msg, Level: raw.RiskLevel}
		}
	}
	*r = MonitoringResult{
		PatientID:   raw.PatientID,
		DisplayName: raw.DisplayName,
		RiskLevel:   raw.RiskLevel,
		Reasons:     reasons,
		EvaluatedAt: raw.EvaluatedAt,
	}
	return nil
}

// CriticalCase is an open (or resolved) staff follow-up item. At most one
// open case exists per patient.
type CriticalCase struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	PatientID  string     `json:"patient_id" db:"patient_id"`
	RiskLevel  RiskLevel  `json:"risk_level" db:"risk_level"`
	Reasons    []string   `json:"reasons" db:"reasons"`
	Status     CaseStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AlertNotification is one outbound staff alert. It is never persisted.
type AlertNotification struct {
	ID          string             `json:"id"`
	Kind        AlertKind          `json:"kind"`
	Results     []MonitoringResult `json:"results"`
	HighestRisk RiskLevel          `json:"highest_risk"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewAlertNotification builds a notification over results and derives its
// kind and highest risk.
func NewAlertNotification(results []MonitoringResult, now time.Time) AlertNotification {
	kind := AlertKindPatient
	if len(results) > 1 {
		kind = AlertKindDigest
	}
	highest := RiskLow
	for _, r := range results {
		highest = MaxRisk(highest, r.RiskLevel)
	}
	return AlertNotification{
		ID:          uuid.NewString(),
		Kind:        kind,
		Results:     results,
		HighestRisk: highest,
		CreatedAt:   now,
	}
}

// RunSummary is the response of a completed monitoring run.
type RunSummary struct {
	Monitored     int                `json:"monitored"`
	Skipped       int                `json:"skipped"`
	Critical      int                `json:"critical"`
	High          int                `json:"high"`
	Medium        int                `json:"medium"`
	Low           int                `json:"low"`
	CasesCreated  int                `json:"cases_created"`
	CasesExisting int                `json:"cases_existing"`
	CaseFailures  int                `json:"case_failures"`
	AlertsSent    int                `json:"alerts_sent"`
	AlertsFailed  int                `json:"alerts_failed"`
	Results       []MonitoringResult `json:"results"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// CountLevel increments the counter for level.
func (s *RunSummary) CountLevel(level RiskLevel) {
	switch level {
	case RiskCritical:
		s.Critical++
	case RiskHigh:
		s.High++
	case RiskMedium:
		s.Medium++
	default:
		s.Low++
	}
}
