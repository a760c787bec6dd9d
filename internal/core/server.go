// Package core provides the API chassis for CareWatch.
// It creates a chi router and enforces cross-cutting concerns (panic
// recovery, request ids, logging, metrics, credential checks and rate
// limiting) before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carewatch/internal/config"
)

// Server encapsulates all dependencies for the CareWatch API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Optional collaborators. Nil disables the matching middleware.
	Metrics        MetricsCollector
	RateLimitStore RateLimitStore
	MetricsHandler http.Handler

	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. They are populated
	// by the entry point so that core never imports the handler packages.
	V1RouteRegistrars []func(r chi.Router)

	// Closers run on Shutdown in order (DB pool, Redis client).
	Closers []func() error

	router *chi.Mux
}

// NewServer validates its inputs and prepares the router. The caller mounts
// routes with MountRoutes after populating the optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources. Every closer runs; the first error is
// returned.
func (s *Server) Shutdown(_ context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var first error
	for _, closeFn := range s.Closers {
		if err := closeFn(); err != nil {
			s.Logger.Error("error closing server resource", "error", err)
			if first == nil {
				first = fmt.Errorf("closing server resource: %w", err)
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return first
}
