// Package main is the entry point for the CareWatch API server.
//
// It loads configuration, opens Postgres, Redis and the AWS clients, builds
// the monitoring pipeline and mounts it behind the HTTP chassis
// (middleware, routing, health checks, metrics).
//
// The server exposes the monitoring trigger used by external schedulers
// (POST /v1/cron/monitor-patients) plus the staff read endpoints. Graceful
// shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carewatch/internal/api/handlers"
	"carewatch/internal/app"
	"carewatch/internal/cache"
	"carewatch/internal/config"
	"carewatch/internal/core"
	"carewatch/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("carewatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, res, logger)
	if err != nil {
		_ = res.Close()
		return err
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the opened resources into a mounted core.Server.
func buildServer(cfg *config.Config, res *app.Resources, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, prom := res.Metrics(cfg, reg, logger)
	if prom != nil {
		srv.Metrics = prom
		srv.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	settings, settingsCache := res.Settings(cfg, logger)
	pipeline, err := res.Pipeline(cfg, settings, metrics, logger)
	if err != nil {
		return nil, err
	}

	if res.Redis != nil {
		srv.RateLimitStore = cache.NewRateLimitStore(res.Redis, nil)
	}
	srv.HealthProbes = res.Probes()
	srv.Closers = append(srv.Closers, res.Close)

	thresholds, err := cfg.Monitoring.Thresholds()
	if err != nil {
		return nil, err
	}

	monitoringHandler := handlers.NewMonitoringHandler(pipeline, db.NewCaseRepository(res.Pool), srv.Validator, logger)
	var invalidator handlers.SettingsInvalidator
	if settingsCache != nil {
		invalidator = settingsCache
	}
	settingsHandler := handlers.NewSettingsHandler(thresholds, settings, invalidator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { monitoringHandler.RegisterRoutes(r, srv) },
		func(r chi.Router) { settingsHandler.RegisterRoutes(r, srv) },
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// WriteTimeout leaves room past the request timeout so a monitoring run
	// that hits its deadline can still write its error.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg.Server.RequestTimeout),
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func writeTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 70 * time.Second
	}
	return requestTimeout + 10*time.Second
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
