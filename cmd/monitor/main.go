// Package main is the entrypoint for the Monitoring Lambda function.
//
// An EventBridge schedule invokes it once per monitoring interval. Each
// invocation runs the same pipeline as POST /v1/cron/monitor-patients:
// evaluate every active patient, open critical cases, alert staff.
//
// Cold Start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Open Postgres, Redis (optional) and the AWS SDK configuration.
//  3. Build the metrics sink (CloudWatch in deployed environments).
//  4. Build the pipeline and register the handler with lambda.Start.
//
// The event body is optional. {"reference_time": "..."} replays a run as of
// that instant.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"carewatch/internal/app"
	"carewatch/internal/config"
	"carewatch/internal/types"
)

// Event is the scheduled invocation payload.
type Event struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Runner runs one monitoring pass. Implemented by monitoring.Pipeline.
type Runner interface {
	Run(ctx context.Context) (*types.RunSummary, error)
}

// Handler holds the dependencies for the monitoring Lambda handler.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, logger: logger}
}

// Handle runs one monitoring pass. A fatal run failure is returned so the
// invocation is marked failed and the schedule's retry policy applies;
// partial failures are only reported in the summary.
func (h *Handler) Handle(ctx context.Context, event Event) (*types.RunSummary, error) {
	ctx = types.WithTrigger(ctx, types.TriggerSchedule)

	logger := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		ctx = types.WithRequestID(ctx, lc.AwsRequestID)
		logger = logger.With("request_id", lc.AwsRequestID)
	}
	if event.ReferenceTime != nil {
		ctx = types.WithReferenceTime(ctx, *event.ReferenceTime)
		logger = logger.With("reference_time", event.ReferenceTime.UTC())
	}
	ctx = types.WithLogger(ctx, logger)

	summary, err := h.runner.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "monitoring run failed", "error", err)
		return nil, fmt.Errorf("monitoring run: %w", err)
	}

	logger.InfoContext(ctx, "monitoring run complete",
		"monitored", summary.Monitored,
		"skipped", summary.Skipped,
		"critical", summary.Critical,
		"cases_created", summary.CasesCreated,
		"alerts_sent", summary.AlertsSent,
		"alerts_failed", summary.AlertsFailed,
	)
	return summary, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("monitoring Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if lvl, ok := parseLevel(cfg.LogLevel); ok {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	}

	ctx := context.Background()
	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open resources", "error", err)
		os.Exit(1)
	}

	if cfg.Observability.MetricsBackend == "prometheus" {
		logger.Warn("prometheus metrics are not scraped from Lambda; set METRICS_BACKEND=cloudwatch")
	}
	metrics, _ := res.Metrics(cfg, nil, logger)
	settings, _ := res.Settings(cfg, logger)

	pipeline, err := res.Pipeline(cfg, settings, metrics, logger)
	if err != nil {
		logger.Error("failed to build monitoring pipeline", "error", err)
		_ = res.Close()
		os.Exit(1)
	}

	logger.Info("monitoring Lambda initialized",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"channels", cfg.Alerts.Channels,
		"batch_mode", cfg.Alerts.BatchMode,
	)

	lambda.Start(NewHandler(pipeline, logger).Handle)
}

func parseLevel(level string) (slog.Level, bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, false
	}
	return lvl, true
}
