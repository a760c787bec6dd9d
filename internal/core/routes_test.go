package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"carewatch/internal/types"
)

func mountedServer(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.With(srv.CronMiddleware()...).Post("/cron/monitor-patients", func(w http.ResponseWriter, r *http.Request) {
			Data(w, r, http.StatusOK, map[string]string{"request_id": types.GetRequestID(r.Context())})
		})
		r.With(srv.AdminMiddleware()...).Get("/cases", func(w http.ResponseWriter, r *http.Request) {
			Data(w, r, http.StatusOK, []string{})
		})
	})
	srv.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	srv.MountRoutes()
	return srv
}

func TestMountRoutes_HealthAndMetrics(t *testing.T) {
	srv := mountedServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected generated request id")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMountRoutes_CronRouteRequestID(t *testing.T) {
	srv := mountedServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil)
	req.Header.Set("X-Request-Id", "sched-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected open local trigger, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") != "sched-1" {
		t.Errorf("request id not propagated: %q", rec.Header().Get("X-Request-Id"))
	}
	if got := rec.Body.String(); got != `{"data":{"request_id":"sched-1"}}` {
		t.Errorf("body = %s", got)
	}
}

func TestMountRoutes_CronRouteIsRateLimited(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Monitoring.CronRateLimit = 1
	srv.Config.Monitoring.CronRateWindow = time.Minute
	calls := 0
	srv.RateLimitStore = &MockRateLimitStore{
		Result: types.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(time.Minute)},
	}
	srv.V1RouteRegistrars = []func(chi.Router){func(r chi.Router) {
		r.With(srv.CronMiddleware()...).Post("/cron/monitor-patients", func(w http.ResponseWriter, _ *http.Request) {
			calls++
		})
	}}
	srv.MountRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if calls != 0 {
		t.Error("handler must not run")
	}
}

func TestMountRoutes_AdminRouteGuarded(t *testing.T) {
	srv := mountedServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cases", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without admin key, got %d", rec.Code)
	}
}

func TestServer_RequestTimeout(t *testing.T) {
	srv := newTestServer(t)
	if got := srv.requestTimeout(); got != defaultRequestTimeout {
		t.Errorf("default timeout = %v", got)
	}
	srv.Config.Server.RequestTimeout = 5 * time.Second
	if got := srv.requestTimeout(); got != 5*time.Second {
		t.Errorf("configured timeout = %v", got)
	}
}

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	ContextTimeoutMiddleware(time.Second)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("expected a request deadline")
	}
}
