package config

import (
	"encoding/json"
	"fmt"

	"carewatch/internal/types"
)

// Thresholds converts the monitoring section into the evaluator rule table.
func (m MonitoringConfig) Thresholds() (types.Thresholds, error) {
	t := types.DefaultThresholds()
	t.MissedSessions = types.Tiers{
		Medium:   float64(m.MissedSessionsMedium),
		High:     float64(m.MissedSessionsHigh),
		Critical: float64(m.MissedSessionsCritical),
	}
	t.AttendanceWindow = m.AttendanceWindow
	t.AttendanceMinSessions = m.AttendanceMinSessions
	t.AttendanceMissRatio = m.AttendanceMissRatio
	t.ContactGapDays = types.Tiers{
		Medium:   float64(m.ContactGapDaysMedium),
		High:     float64(m.ContactGapDaysHigh),
		Critical: float64(m.ContactGapDaysCritical),
	}
	t.UnansweredMessages = types.Tiers{
		Medium: float64(m.UnansweredMedium),
		High:   float64(m.UnansweredHigh),
	}

	if m.MetricRules != "" {
		var rules []types.MetricRule
		if err := json.Unmarshal([]byte(m.MetricRules), &rules); err != nil {
			return types.Thresholds{}, fmt.Errorf("MONITOR_METRIC_RULES: %w", err)
		}
		t.MetricRules = rules
	}

	if err := t.Validate(); err != nil {
		return types.Thresholds{}, err
	}
	return t, nil
}
