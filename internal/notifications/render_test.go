package notifications

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carewatch/internal/types"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func result(id, name string, level types.RiskLevel, reasons ...string) types.MonitoringResult {
	r := types.MonitoringResult{PatientID: id, DisplayName: name, RiskLevel: level, EvaluatedAt: now}
	for _, msg := range reasons {
		r.Reasons = append(r.Reasons, types.Reason{Rule: "test", Level: level, Message: msg})
	}
	return r
}

func TestTitle(t *testing.T) {
	single := types.NewAlertNotification([]types.MonitoringResult{
		result("p-1", "Ana Souza", types.RiskCritical, "4 consecutive missed sessions"),
	}, now)
	assert.Equal(t, "CareWatch: Critical risk for Ana Souza (p-1)", Title(single))

	digest := types.NewAlertNotification([]types.MonitoringResult{
		result("p-1", "", types.RiskHigh),
		result("p-2", "", types.RiskCritical),
	}, now)
	assert.Equal(t, "CareWatch: 2 patients need follow-up (highest risk critical)", Title(digest))
}

func TestPatientLabel(t *testing.T) {
	assert.Equal(t, "p-9", PatientLabel(result("p-9", "", types.RiskHigh)))
	assert.Equal(t, "Bo (p-9)", PatientLabel(result("p-9", "Bo", types.RiskHigh)))
}

func TestPlainText(t *testing.T) {
	n := types.NewAlertNotification([]types.MonitoringResult{
		result("p-1", "Ana", types.RiskHigh, "no contact for 21 days", "5 unanswered messages"),
	}, now)

	assert.Equal(t,
		"CareWatch: High risk for Ana (p-1)\n\nHIGH: Ana (p-1)\n- no contact for 21 days\n- 5 unanswered messages",
		PlainText(n))
}

func TestPlainText_TruncatesLongDigest(t *testing.T) {
	var results []types.MonitoringResult
	for i := 0; i < MaxListedResults+3; i++ {
		results = append(results, result(fmt.Sprintf("p-%02d", i), "", types.RiskHigh))
	}
	text := PlainText(types.NewAlertNotification(results, now))

	assert.Contains(t, text, "p-09")
	assert.NotContains(t, text, "p-10")
	assert.True(t, strings.HasSuffix(text, "...and 3 more patients."))
}
