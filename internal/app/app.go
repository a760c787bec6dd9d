// Package app wires the monitoring pipeline from configuration. Both the
// HTTP server and the scheduled Lambda build their pipeline here so the two
// triggers run identical code.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"carewatch/internal/cache"
	"carewatch/internal/config"
	"carewatch/internal/core"
	"carewatch/internal/db"
	"carewatch/internal/external"
	"carewatch/internal/monitoring"
	"carewatch/internal/notifications/channels"
	"carewatch/internal/telemetry"
	"carewatch/internal/types"
)

// Resources are the long-lived clients opened once per process.
type Resources struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client // nil when Redis is disabled or unreachable
	AWS   aws.Config

	closers []func() error
}

// Open connects to Postgres, Redis (when configured) and loads the AWS SDK
// configuration. The database is required; an unreachable Redis is logged
// and the process continues without the cache.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Resources, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	res := &Resources{Pool: pool}
	res.closers = append(res.closers, func() error {
		pool.Close()
		return nil
	})

	if cfg.Redis.Enabled() {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, continuing without settings cache and rate limiting", "error", err)
		} else {
			res.Redis = client
			res.closers = append(res.closers, client.Close)
		}
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("aws config: %w", err)
	}
	res.AWS = awsCfg

	return res, nil
}

// LoadAWSConfig loads the default SDK chain for the configured region. A set
// EndpointURL points every client at it (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Close releases every resource in reverse order of opening.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Probes returns the health probes for the opened dependencies.
func (r *Resources) Probes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: r.Pool.Ping},
	}
	if r.Redis != nil {
		client := r.Redis
		probes = append(probes, core.ProbeFunc{ProbeName: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	return probes
}

// Settings returns the settings source for the orchestrator. With Redis it
// is the read-through cache, which is also returned for invalidation.
func (r *Resources) Settings(cfg *config.Config, logger *slog.Logger) (monitoring.SettingsSource, *cache.SettingsCache) {
	repo := db.NewSettingsRepository(r.Pool)
	if r.Redis == nil {
		return repo, nil
	}
	sc := cache.NewSettingsCache(r.Redis, repo, cfg.Redis.SettingsCacheTTL, logger)
	return sc, sc
}

// Metrics returns the run metrics sink selected by METRICS_BACKEND. The
// Prometheus value is also returned when that backend is active so the HTTP
// server can record request metrics on it; it is nil otherwise.
func (r *Resources) Metrics(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (monitoring.Metrics, *telemetry.Prometheus) {
	switch cfg.Observability.MetricsBackend {
	case "cloudwatch":
		return telemetry.NewCloudWatch(cloudwatch.NewFromConfig(r.AWS), cfg.Observability.MetricNamespace, logger), nil
	case "none":
		return nil, nil
	default:
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		p := telemetry.NewPrometheus(reg)
		return p, p
	}
}

// Pipeline builds the monitoring pipeline over the opened resources.
func (r *Resources) Pipeline(cfg *config.Config, settings monitoring.SettingsSource, metrics monitoring.Metrics, logger *slog.Logger) (*monitoring.Pipeline, error) {
	deps := channels.Deps{Logger: logger}
	if rec, ok := metrics.(external.FailureRecorder); ok {
		deps.Failures = rec
	}
	if cfg.AWS.AlertQueueURL != "" {
		deps.SQS = sqs.NewFromConfig(r.AWS)
	}
	chans, err := channels.Build(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("alert channels: %w", err)
	}

	return NewPipeline(cfg, PipelineDeps{
		Patients: db.NewPatientRepository(r.Pool),
		Settings: settings,
		Cases:    db.NewCaseRepository(r.Pool),
		History:  db.NewRunHistoryRepository(r.Pool),
		Channels: chans,
		Metrics:  metrics,
		Logger:   logger,
	})
}

// PipelineDeps are the collaborators of a pipeline. History, Metrics and
// Clock are optional.
type PipelineDeps struct {
	Patients monitoring.PatientSource
	Settings monitoring.SettingsSource
	Cases    monitoring.CaseStore
	History  monitoring.RunRecorder
	Channels []monitoring.AlertChannel
	Metrics  monitoring.Metrics
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewPipeline assembles orchestrator, case manager and dispatcher into a
// pipeline configured from cfg.
func NewPipeline(cfg *config.Config, deps PipelineDeps) (*monitoring.Pipeline, error) {
	if deps.Patients == nil || deps.Cases == nil {
		return nil, errors.New("patient source and case store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	thresholds, err := cfg.Monitoring.Thresholds()
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}

	if len(deps.Channels) == 0 {
		logger.Warn("no alert channels configured; qualifying results will only be logged")
	}

	orch := monitoring.NewOrchestrator(deps.Patients, deps.Settings, monitoring.OrchestratorConfig{
		Concurrency: cfg.Monitoring.Concurrency,
		Lookback:    cfg.Monitoring.Lookback,
		Thresholds:  thresholds,
	}, deps.Clock, logger)

	dispatcher := monitoring.NewDispatcher(deps.Channels, monitoring.DispatcherConfig{
		BatchMode: types.AlertBatchMode(cfg.Alerts.BatchMode),
		DigestMax: cfg.Alerts.DigestMax,
	}, deps.Metrics, deps.Clock, logger)

	return &monitoring.Pipeline{
		Monitor: orch,
		Cases:   monitoring.NewCaseManager(deps.Cases, deps.Clock, logger),
		Alerts:  dispatcher,
		History: deps.History,
		Metrics: deps.Metrics,
		Clock:   deps.Clock,
		Logger:  logger,
	}, nil
}
