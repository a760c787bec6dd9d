package types

import (
	"errors"
	"fmt"
)

// MetricMode selects how a metric rule reads its readings.
type MetricMode string

const (
	// MetricModeDelta compares the latest reading with the earliest one in the window.
	MetricModeDelta MetricMode = "delta"
	// MetricModeLevel compares the latest reading on its own.
	MetricModeLevel MetricMode = "level"
)

// MetricDirection is the direction of change (or level) that signals risk.
type MetricDirection string

const (
	DirectionIncrease MetricDirection = "increase"
	DirectionDecrease MetricDirection = "decrease"
)

// Tiers holds the minimum value for each risk tier. A zero value disables
// that tier.
type Tiers struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// Classify returns the most severe tier whose threshold v reaches.
func (t Tiers) Classify(v float64) (RiskLevel, bool) {
	switch {
	case t.Critical > 0 && v >= t.Critical:
		return RiskCritical, true
	case t.High > 0 && v >= t.High:
		return RiskHigh, true
	case t.Medium > 0 && v >= t.Medium:
		return RiskMedium, true
	}
	return RiskLow, false
}

// MetricRule is a configured rule over one named metric.
type MetricRule struct {
	Metric    string          `json:"metric"`
	Mode      MetricMode      `json:"mode"`
	Direction MetricDirection `json:"direction"`
	Tiers     Tiers           `json:"tiers"`
}

// Thresholds is the complete, immutable rule table used by the evaluator.
type Thresholds struct {
	MissedSessions        Tiers        `json:"missed_sessions"`
	AttendanceWindow      int          `json:"attendance_window"`
	AttendanceMinSessions int          `json:"attendance_min_sessions"`
	AttendanceMissRatio   float64      `json:"attendance_miss_ratio"`
	ContactGapDays        Tiers        `json:"contact_gap_days"`
	UnansweredMessages    Tiers        `json:"unanswered_messages"`
	MetricRules           []MetricRule `json:"metric_rules"`
}

// DefaultThresholds returns the built-in rule table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MissedSessions:        Tiers{Medium: 2, High: 3, Critical: 4},
		AttendanceWindow:      6,
		AttendanceMinSessions: 4,
		AttendanceMissRatio:   0.5,
		ContactGapDays:        Tiers{Medium: 14, High: 21, Critical: 45},
		UnansweredMessages:    Tiers{Medium: 3, High: 5},
		MetricRules: []MetricRule{
			{Metric: "mood_score", Mode: MetricModeDelta, Direction: DirectionDecrease, Tiers: Tiers{Medium: 2, High: 3, Critical: 5}},
			{Metric: "anxiety_score", Mode: MetricModeDelta, Direction: DirectionIncrease, Tiers: Tiers{Medium: 3, High: 5, Critical: 7}},
			{Metric: "phq9_score", Mode: MetricModeLevel, Direction: DirectionIncrease, Tiers: Tiers{Medium: 10, High: 15, Critical: 20}},
		},
	}
}

// ThresholdOverrides is the persisted, partial settings document. Nil
// fields keep the base value.
type ThresholdOverrides struct {
	MissedSessions        *Tiers       `json:"missed_sessions,omitempty"`
	AttendanceWindow      *int         `json:"attendance_window,omitempty"`
	AttendanceMinSessions *int         `json:"attendance_min_sessions,omitempty"`
	AttendanceMissRatio   *float64     `json:"attendance_miss_ratio,omitempty"`
	ContactGapDays        *Tiers       `json:"contact_gap_days,omitempty"`
	UnansweredMessages    *Tiers       `json:"unanswered_messages,omitempty"`
	MetricRules           []MetricRule `json:"metric_rules,omitempty"`
}

// Apply returns base with the non-nil overrides merged in. Metric rules are
// replaced by metric name; new metric names are appended.
func (o *ThresholdOverrides) Apply(base Thresholds) Thresholds {
	if o == nil {
		return base
	}
	out := base
	if o.MissedSessions != nil {
		out.MissedSessions = *o.MissedSessions
	}
	if o.AttendanceWindow != nil && *o.AttendanceWindow > 0 {
		out.AttendanceWindow = *o.AttendanceWindow
	}
	if o.AttendanceMinSessions != nil && *o.AttendanceMinSessions > 0 {
		out.AttendanceMinSessions = *o.AttendanceMinSessions
	}
	if o.AttendanceMissRatio != nil {
		out.AttendanceMissRatio = *o.AttendanceMissRatio
	}
	if o.ContactGapDays != nil {
		out.ContactGapDays = *o.ContactGapDays
	}
	if o.UnansweredMessages != nil {
		out.UnansweredMessages = *o.UnansweredMessages
	}
	if len(o.MetricRules) > 0 {
		rules := make([]MetricRule, len(base.MetricRules))
		copy(rules, base.MetricRules)
		for _, override := range o.MetricRules {
			replaced := false
			for i := range rules {
				if rules[i].Metric == override.Metric {
					rules[i] = override
					replaced = true
					break
				}
			}
			if !replaced {
				rules = append(rules, override)
			}
		}
		out.MetricRules = rules
	}
	return out
}

// Validate checks rule modes and that enabled tiers do not decrease in
// severity order.
func (t Thresholds) Validate() error {
	named := map[string]Tiers{
		"missed_sessions":     t.MissedSessions,
		"contact_gap_days":    t.ContactGapDays,
		"unanswered_messages": t.UnansweredMessages,
	}
	for _, r := range t.MetricRules {
		if r.Metric == "" {
			return errors.New("metric rule without metric name")
		}
		if r.Mode != MetricModeDelta && r.Mode != MetricModeLevel {
			return fmt.Errorf("metric rule %q: unknown mode %q", r.Metric, r.Mode)
		}
		if r.Direction != DirectionIncrease && r.Direction != DirectionDecrease {
			return fmt.Errorf("metric rule %q: unknown direction %q", r.Metric, r.Direction)
		}
		if r.Mode == MetricModeLevel && r.Direction != DirectionIncrease {
			return fmt.Errorf("metric rule %q: level mode only supports direction %q", r.Metric, DirectionIncrease)
		}
		named["metric:"+r.Metric] = r.Tiers
	}
	for name, tiers := range named {
		if err := checkTierOrder(tiers); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// checkTierOrder requires enabled tiers to be non-decreasing in severity.
func checkTierOrder(t Tiers) error {
	prev := 0.0
	for _, v := range []float64{t.Medium, t.High, t.Critical} {
		if v < 0 {
			return fmt.Errorf("negative threshold %v", v)
		}
		if v == 0 {
			continue
		}
		if v < prev {
			return fmt.Errorf("threshold %v is below a less severe tier (%v)", v, prev)
		}
		prev = v
	}
	return nil
}
