package monitoring

import (
	"context"
	"log/slog"
	"sort"

	"carewatch/internal/types"
)

// DefaultDigestMax caps the number of results in one digest notification.
const DefaultDigestMax = 20

// DispatcherConfig selects how qualifying results are grouped.
type DispatcherConfig struct {
	BatchMode types.AlertBatchMode
	DigestMax int
}

// DispatchReport counts one dispatch pass. Sent and Failed count individual
// channel sends, so one notification over three channels counts three times.
type DispatchReport struct {
	Notifications int
	Sent          int
	Failed        int
}

// Dispatcher sends staff alerts for high and critical results.
type Dispatcher struct {
	channels []AlertChannel
	cfg      DispatcherConfig
	metrics  Metrics
	clock    types.Clock
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given channels. With no
// channels every dispatch is a no-op.
func NewDispatcher(channels []AlertChannel, cfg DispatcherConfig, metrics Metrics, clock types.Clock, logger *slog.Logger) *Dispatcher {
	if cfg.BatchMode == "" {
		cfg.BatchMode = types.BatchPerPatient
	}
	if cfg.DigestMax <= 0 {
		cfg.DigestMax = DefaultDigestMax
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels: channels,
		cfg:      cfg,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// SendMonitoringAlerts filters results to high and critical, groups them
// into notifications and sends every notification to every channel. Send
// failures are logged and counted; the remaining sends continue.
func (d *Dispatcher) SendMonitoringAlerts(ctx context.Context, results []types.MonitoringResult) DispatchReport {
	var report DispatchReport
	logger := types.LoggerFromContext(ctx, d.logger)

	qualifying := FilterAlertable(results)
	if len(qualifying) == 0 {
		return report
	}
	if len(d.channels) == 0 {
		logger.WarnContext(ctx, "no alert channels configured", "qualifying", len(qualifying))
		return report
	}

	now := d.clock.Now()
	for _, batch := range d.batches(qualifying) {
		n := types.NewAlertNotification(batch, now)
		report.Notifications++

		for _, ch := range d.channels {
			if err := ch.Send(ctx, n); err != nil {
				report.Failed++
				d.metrics.AlertSent(ch.Name(), false)
				logger.ErrorContext(ctx, "alert delivery failed",
					"channel", string(ch.Name()),
					"notification_id", n.ID,
					"patients", len(n.Results),
					"error", err,
				)
				continue
			}
			report.Sent++
			d.metrics.AlertSent(ch.Name(), true)
		}
	}

	logger.InfoContext(ctx, "alerts dispatched",
		"notifications", report.Notifications,
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report
}

func (d *Dispatcher) batches(results []types.MonitoringResult) [][]types.MonitoringResult {
	if d.cfg.BatchMode != types.BatchDigest {
		out := make([][]types.MonitoringResult, len(results))
		for i := range results {
			out[i] = results[i : i+1]
		}
		return out
	}

	var out [][]types.MonitoringResult
	for start := 0; start < len(results); start += d.cfg.DigestMax {
		end := min(start+d.cfg.DigestMax, len(results))
		out = append(out, results[start:end])
	}
	return out
}

// FilterAlertable returns the high and critical results, most severe first
// and then by patient id.
func FilterAlertable(results []types.MonitoringResult) []types.MonitoringResult {
	out := make([]types.MonitoringResult, 0, len(results))
	for _, r := range results {
		if r.RiskLevel.RequiresCase() {
			out = append(out, r)
		}
	}
	SortBySeverity(out)
	return out
}

// SortBySeverity orders results most severe first, then by patient id.
func SortBySeverity(results []types.MonitoringResult) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := results[i].RiskLevel.Severity(), results[j].RiskLevel.Severity()
		if si != sj {
			return si > sj
		}
		return results[i].PatientID < results[j].PatientID
	})
}
