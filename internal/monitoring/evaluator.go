// Package monitoring implements the patient risk-monitoring run: evaluation
// of every active patient, idempotent critical case creation, and staff
// alert dispatch, tied together by the Pipeline state machine.
package monitoring

import (
	"fmt"
	"sort"
	"strconv"

	"carewatch/internal/types"
)

// Rule identifiers reported in types.Reason.Rule.
const (
	RuleConsecutiveMissed = "consecutive_missed_sessions"
	RuleAttendanceRate    = "attendance_rate"
	RuleContactGap        = "days_since_last_contact"
	RuleUnanswered        = "unanswered_messages"
	ruleMetricPrefix      = "metric:"
)

// Thresholds is the evaluator rule table.
type Thresholds = types.Thresholds

// Evaluator classifies patient snapshots. It is pure: the result depends only
// on the snapshot and the rule table fixed at construction, so one Evaluator
// may be shared by concurrent goroutines.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator returns an Evaluator over a private copy of t.
func NewEvaluator(t Thresholds) *Evaluator {
	rules := make([]types.MetricRule, len(t.MetricRules))
	copy(rules, t.MetricRules)
	t.MetricRules = rules
	return &Evaluator{thresholds: t}
}

// Evaluate applies every rule in a fixed order. The overall level is the most
// severe triggered reason; with no reasons the patient is low risk. Rules
// whose inputs are absent are skipped.
func (e *Evaluator) Evaluate(s types.PatientSnapshot) types.MonitoringResult {
	reasons := make([]types.Reason, 0, 4)

	if r, ok := e.consecutiveMissed(s.Sessions); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.attendanceRate(s.Sessions); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.contactGap(s); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.unanswered(s.UnansweredMessages); ok {
		reasons = append(reasons, r)
	}
	for _, rule := range e.thresholds.MetricRules {
		if r, ok := evaluateMetric(rule, s.Metrics); ok {
			reasons = append(reasons, r)
		}
	}

	level := types.RiskLow
	for _, r := range reasons {
		level = types.MaxRisk(level, r.Level)
	}

	return types.MonitoringResult{
		PatientID:   s.PatientID,
		DisplayName: s.DisplayName,
		RiskLevel:   level,
		Reasons:     reasons,
		EvaluatedAt: s.AsOf,
	}
}

// consecutiveMissed counts the trailing run of missed sessions. Cancelled
// sessions neither break nor extend the run.
func (e *Evaluator) consecutiveMissed(sessions []types.SessionRecord) (types.Reason, bool) {
	run := 0
	for i := len(sessions) - 1; i >= 0; i-- {
		switch sessions[i].Status {
		case types.SessionMissed:
			run++
			continue
		case types.SessionCancelled:
			continue
		}
		break
	}
	if run == 0 {
		return types.Reason{}, false
	}
	level, ok := e.thresholds.MissedSessions.Classify(float64(run))
	if !ok {
		return types.Reason{}, false
	}
	return types.Reason{
		Rule:    RuleConsecutiveMissed,
		Level:   level,
		Message: fmt.Sprintf("%d consecutive missed sessions", run),
	}, true
}

// attendanceRate flags a high share of missed sessions among the most
// recent non-cancelled ones. It only ever raises medium risk.
func (e *Evaluator) attendanceRate(sessions []types.SessionRecord) (types.Reason, bool) {
	t := e.thresholds
	if t.AttendanceMissRatio <= 0 || t.AttendanceWindow <= 0 {
		return types.Reason{}, false
	}

	considered, missed := 0, 0
	for i := len(sessions) - 1; i >= 0 && considered < t.AttendanceWindow; i-- {
		switch sessions[i].Status {
		case types.SessionCancelled:
			continue
		case types.SessionMissed:
			missed++
		}
		considered++
	}
	if considered < t.AttendanceMinSessions || considered == 0 {
		return types.Reason{}, false
	}

	ratio := float64(missed) / float64(considered)
	if ratio < t.AttendanceMissRatio {
		return types.Reason{}, false
	}
	return types.Reason{
		Rule:    RuleAttendanceRate,
		Level:   types.RiskMedium,
		Message: fmt.Sprintf("missed %d of the last %d sessions", missed, considered),
	}, true
}

func (e *Evaluator) contactGap(s types.PatientSnapshot) (types.Reason, bool) {
	if s.LastContactAt == nil {
		return types.Reason{}, false
	}
	days := int(s.AsOf.Sub(*s.LastContactAt).Hours() / 24)
	if days <= 0 {
		return types.Reason{}, false
	}
	level, ok := e.thresholds.ContactGapDays.Classify(float64(days))
	if !ok {
		return types.Reason{}, false
	}
	return types.Reason{
		Rule:    RuleContactGap,
		Level:   level,
		Message: fmt.Sprintf("no contact for %d days", days),
	}, true
}

func (e *Evaluator) unanswered(count *int) (types.Reason, bool) {
	if count == nil || *count == 0 {
		return types.Reason{}, false
	}
	level, ok := e.thresholds.UnansweredMessages.Classify(float64(*count))
	if !ok {
		return types.Reason{}, false
	}
	return types.Reason{
		Rule:    RuleUnanswered,
		Level:   level,
		Message: fmt.Sprintf("%d unanswered messages", *count),
	}, true
}

// evaluateMetric applies one metric rule to the readings of its metric.
// Delta mode needs at least two readings and compares the latest with the
// earliest; level mode looks at the latest reading only.
func evaluateMetric(rule types.MetricRule, metrics []types.MetricReading) (types.Reason, bool) {
	readings := make([]types.MetricReading, 0, len(metrics))
	for _, m := range metrics {
		if m.Name == rule.Metric {
			readings = append(readings, m)
		}
	}
	if len(readings) == 0 {
		return types.Reason{}, false
	}
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].RecordedAt.Before(readings[j].RecordedAt)
	})

	first, last := readings[0], readings[len(readings)-1]
	var value float64
	var msg string

	switch rule.Mode {
	case types.MetricModeDelta:
		if len(readings) < 2 {
			return types.Reason{}, false
		}
		change := last.Value - first.Value
		verb := "rose"
		if rule.Direction == types.DirectionDecrease {
			change = -change
			verb = "dropped"
		}
		value = change
		msg = fmt.Sprintf("%s %s by %s (%s to %s)", rule.Metric, verb, num(change), num(first.Value), num(last.Value))
	case types.MetricModeLevel:
		value = last.Value
		msg = fmt.Sprintf("%s at %s", rule.Metric, num(last.Value))
	default:
		return types.Reason{}, false
	}

	if value <= 0 {
		return types.Reason{}, false
	}
	level, ok := rule.Tiers.Classify(value)
	if !ok {
		return types.Reason{}, false
	}
	return types.Reason{
		Rule:    ruleMetricPrefix + rule.Metric,
		Level:   level,
		Message: msg,
	}, true
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
