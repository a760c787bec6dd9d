// Package notifications holds the alert rendering shared by the delivery
// channels. Each channel lives in its own subpackage and implements
// monitoring.AlertChannel.
package notifications

import (
	"fmt"
	"strings"

	"carewatch/internal/types"
)

// MaxListedResults caps how many patients a rendered digest names before
// summarising the rest.
const MaxListedResults = 10

// Title returns a one-line headline for n.
func Title(n types.AlertNotification) string {
	if n.Kind == types.AlertKindDigest || len(n.Results) != 1 {
		return fmt.Sprintf("CareWatch: %d patients need follow-up (highest risk %s)", len(n.Results), n.HighestRisk)
	}
	r := n.Results[0]
	return fmt.Sprintf("CareWatch: %s risk for %s", capitalizeFirst(string(r.RiskLevel)), PatientLabel(r))
}

// PatientLabel names a patient for staff, preferring the display name.
func PatientLabel(r types.MonitoringResult) string {
	if r.DisplayName == "" {
		return r.PatientID
	}
	return fmt.Sprintf("%s (%s)", r.DisplayName, r.PatientID)
}

// ResultLines renders one result as a header line plus one line per reason.
func ResultLines(r types.MonitoringResult) []string {
	lines := make([]string, 0, len(r.Reasons)+1)
	lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(r.RiskLevel)), PatientLabel(r)))
	for _, msg := range r.ReasonMessages() {
		lines = append(lines, "- "+msg)
	}
	return lines
}

// PlainText renders n for text-only channels.
func PlainText(n types.AlertNotification) string {
	var b strings.Builder
	b.WriteString(Title(n))

	listed := n.Results
	if len(listed) > MaxListedResults {
		listed = listed[:MaxListedResults]
	}
	for _, r := range listed {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(ResultLines(r), "\n"))
	}
	if rest := len(n.Results) - len(listed); rest > 0 {
		fmt.Fprintf(&b, "\n\n...and %d more patients.", rest)
	}
	return b.String()
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
