package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carewatch/internal/types"
)

func TestFilterAlertable(t *testing.T) {
	in := []types.MonitoringResult{
		result("d", types.RiskLow),
		result("c", types.RiskHigh),
		result("b", types.RiskMedium),
		result("a", types.RiskCritical),
		result("e", types.RiskHigh),
	}

	out := FilterAlertable(in)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].PatientID)
	assert.Equal(t, "c", out[1].PatientID)
	assert.Equal(t, "e", out[2].PatientID)

	// Input order is untouched.
	assert.Equal(t, "d", in[0].PatientID)
}

func TestSendMonitoringAlerts_PerPatient(t *testing.T) {
	ch := &fakeChannel{name: types.ChannelWebhook}
	metrics := &fakeMetrics{}
	d := NewDispatcher([]AlertChannel{ch}, DispatcherConfig{}, metrics, types.FixedClock{T: testNow}, nil)

	report := d.SendMonitoringAlerts(context.Background(), []types.MonitoringResult{
		result("low", types.RiskLow),
		result("med", types.RiskMedium),
		result("high", types.RiskHigh),
		result("crit", types.RiskCritical),
	})

	assert.Equal(t, DispatchReport{Notifications: 2, Sent: 2}, report)
	require.Len(t, ch.sent, 2)
	assert.Equal(t, "crit", ch.sent[0].Results[0].PatientID)
	assert.Equal(t, types.AlertKindPatient, ch.sent[0].Kind)
	assert.Equal(t, types.RiskCritical, ch.sent[0].HighestRisk)
	assert.Equal(t, "high", ch.sent[1].Results[0].PatientID)
	assert.Equal(t, testNow, ch.sent[1].CreatedAt)
	assert.NotEqual(t, ch.sent[0].ID, ch.sent[1].ID)
	assert.Equal(t, [2]int{2, 0}, metrics.alerts[types.ChannelWebhook])
}

func TestSendMonitoringAlerts_Digest(t *testing.T) {
	ch := &fakeChannel{name: types.ChannelSQS}
	d := NewDispatcher([]AlertChannel{ch}, DispatcherConfig{BatchMode: types.BatchDigest, DigestMax: 2}, nil, nil, nil)

	var results []types.MonitoringResult
	for i := 0; i < 5; i++ {
		results = append(results, result(fmt.Sprintf("p-%d", i), types.RiskHigh))
	}
	results = append(results, result("quiet", types.RiskMedium))

	report := d.SendMonitoringAlerts(context.Background(), results)
	assert.Equal(t, 3, report.Notifications)
	require.Len(t, ch.sent, 3)
	assert.Len(t, ch.sent[0].Results, 2)
	assert.Equal(t, types.AlertKindDigest, ch.sent[0].Kind)
	assert.Len(t, ch.sent[2].Results, 1)
	assert.Equal(t, types.AlertKindPatient, ch.sent[2].Kind)

	// Every qualifying result appears exactly once.
	seen := map[string]int{}
	for _, n := range ch.sent {
		for _, r := range n.Results {
			seen[r.PatientID]++
		}
	}
	assert.Len(t, seen, 5)
	assert.NotContains(t, seen, "quiet")
}

func TestSendMonitoringAlerts_ChannelFailureContinues(t *testing.T) {
	broken := &fakeChannel{name: types.ChannelWhatsApp, err: errors.New("503 from provider")}
	ok := &fakeChannel{name: types.ChannelWebhook}
	metrics := &fakeMetrics{}
	d := NewDispatcher([]AlertChannel{broken, ok}, DispatcherConfig{}, metrics, nil, nil)

	report := d.SendMonitoringAlerts(context.Background(), []types.MonitoringResult{
		result("a", types.RiskCritical),
		result("b", types.RiskHigh),
	})

	assert.Equal(t, DispatchReport{Notifications: 2, Sent: 2, Failed: 2}, report)
	assert.Len(t, ok.sent, 2)
	assert.Equal(t, [2]int{0, 2}, metrics.alerts[types.ChannelWhatsApp])
}

func TestSendMonitoringAlerts_NothingToSend(t *testing.T) {
	ch := &fakeChannel{name: types.ChannelWebhook}
	d := NewDispatcher([]AlertChannel{ch}, DispatcherConfig{}, nil, nil, nil)

	report := d.SendMonitoringAlerts(context.Background(), []types.MonitoringResult{
		result("a", types.RiskLow),
		result("b", types.RiskMedium),
	})
	assert.Equal(t, DispatchReport{}, report)
	assert.Empty(t, ch.sent)

	// No channels configured.
	report = NewDispatcher(nil, DispatcherConfig{}, nil, nil, nil).
		SendMonitoringAlerts(context.Background(), []types.MonitoringResult{result("a", types.RiskCritical)})
	assert.Equal(t, DispatchReport{}, report)
}
