// Package telemetry implements monitoring.Metrics for the two supported
// backends: Prometheus (scraped from the API server) and CloudWatch (pushed
// from the scheduled Lambda).
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carewatch/internal/types"
)

const (
	metricPrefix = "carewatch_"

	resultSuccess = "success"
	resultError   = "error"
)

// Prometheus exposes run and delivery metrics on a registry.
type Prometheus struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	runDuration  prometheus.Histogram
	monitored    prometheus.Gauge
	skipped      prometheus.Gauge
	atRisk       *prometheus.GaugeVec
	casesCreated prometheus.Counter
	caseFailures prometheus.Counter
	alerts       *prometheus.CounterVec
	external     *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitoring_runs_total",
				Help: "Total monitoring runs by result",
			},
			[]string{"result"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitoring_run_failures_total",
				Help: "Total fatal monitoring run failures by stage",
			},
			[]string{"stage"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "monitoring_run_duration_seconds",
				Help:    "Monitoring run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		monitored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "patients_monitored",
				Help: "Patients evaluated by the last completed run",
			},
		),
		skipped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "patients_skipped",
				Help: "Patients skipped by the last completed run",
			},
		),
		atRisk: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "patients_by_risk_level",
				Help: "Patients per risk level in the last completed run",
			},
			[]string{"risk_level"},
		),
		casesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "critical_cases_created_total",
				Help: "Total critical cases opened",
			},
		),
		caseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "critical_case_failures_total",
				Help: "Total failed critical case creations",
			},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total alert sends by channel and result",
			},
			[]string{"channel", "result"},
		),
		external: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "external_api_failures_total",
				Help: "Total provider calls that failed after retries",
			},
			[]string{"provider"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total API requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		p.runs,
		p.failures,
		p.runDuration,
		p.monitored,
		p.skipped,
		p.atRisk,
		p.casesCreated,
		p.caseFailures,
		p.alerts,
		p.external,
		p.requests,
		p.latency,
	)
	return p
}

// RunCompleted records a successful run.
func (p *Prometheus) RunCompleted(_ context.Context, s *types.RunSummary, d time.Duration) {
	p.runs.WithLabelValues(resultSuccess).Inc()
	p.runDuration.Observe(d.Seconds())
	p.monitored.Set(float64(s.Monitored))
	p.skipped.Set(float64(s.Skipped))
	p.atRisk.WithLabelValues(string(types.RiskLow)).Set(float64(s.Low))
	p.atRisk.WithLabelValues(string(types.RiskMedium)).Set(float64(s.Medium))
	p.atRisk.WithLabelValues(string(types.RiskHigh)).Set(float64(s.High))
	p.atRisk.WithLabelValues(string(types.RiskCritical)).Set(float64(s.Critical))
	p.casesCreated.Add(float64(s.CasesCreated))
	p.caseFailures.Add(float64(s.CaseFailures))
}

// RunFailed records a fatal run failure.
func (p *Prometheus) RunFailed(_ context.Context, stage types.RunState) {
	p.runs.WithLabelValues(resultError).Inc()
	p.failures.WithLabelValues(string(stage)).Inc()
}

// AlertSent records one channel send.
func (p *Prometheus) AlertSent(channel types.ChannelType, ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	p.alerts.WithLabelValues(string(channel), result).Inc()
}

// ExternalAPIFailure records a provider call that exhausted its retries.
func (p *Prometheus) ExternalAPIFailure(provider string) {
	p.external.WithLabelValues(provider).Inc()
}

// RecordRequest records one API request. route is the matched route pattern,
// never the raw path, to keep label cardinality bounded.
func (p *Prometheus) RecordRequest(method, route, status string, d time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(d.Seconds())
}
