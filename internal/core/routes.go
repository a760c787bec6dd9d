package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carewatch/internal/types"
)

// defaultRequestTimeout applies when Server.RequestTimeout is unset.
const defaultRequestTimeout = 60 * time.Second

// redactedHeaders are masked in request logs.
var redactedHeaders = []string{
	"Authorization",
	"Cookie",
	CronSecretHeader,
	AdminKeyHeader,
}

// MountRoutes registers the global middleware chain, the /v1 group and the
// top-level routes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}
}

// registerGlobalMiddleware applies middleware in strict order:
//  1. Recoverer       - outermost, catches every panic.
//  2. ContextTimeout  - bounds the request, and with it a triggered run.
//  3. RequestID       - correlation id for logs and downstream calls.
//  4. SecurityHeaders
//  5. RequestLogger   - structured log with redacted credentials.
//  6. Metrics
//
// Credential checks and rate limiting are per route (CronMiddleware,
// AdminMiddleware).
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, redactedHeaders))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// CronMiddleware is the chain for the monitoring trigger: per-IP rate limit
// first, so bad credentials are throttled too, then the cron secret.
func (s *Server) CronMiddleware() chi.Middlewares {
	mon := s.Config.Monitoring
	return chi.Middlewares{
		s.RateLimit("cron", mon.CronRateLimit, mon.CronRateWindow),
		s.RequireCronSecret,
	}
}

// AdminMiddleware is the chain for the staff read endpoints.
func (s *Server) AdminMiddleware() chi.Middlewares {
	return chi.Middlewares{s.RequireAdminKey}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// ContextTimeoutMiddleware sets a deadline on the request context.
// Downstream handlers observe cancellation through the context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
