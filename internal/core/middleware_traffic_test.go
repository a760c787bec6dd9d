package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"carewatch/internal/types"
)

func serveLimited(srv *Server, limit int, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := srv.RateLimit("cron", limit, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, called
}

func TestRateLimit_AllowedSetsHeaders(t *testing.T) {
	srv := newTestServer(t)
	reset := time.Now().Add(30 * time.Second)
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 9, ResetAt: reset}}
	srv.RateLimitStore = store

	req := httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil)
	req.RemoteAddr = "203.0.113.7:5123"
	rec, called := serveLimited(srv, 10, req)

	if !called {
		t.Fatal("expected request to pass")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("X-RateLimit-Reset = %q", got)
	}
	if len(store.Calls) != 1 || store.Calls[0].Key != "cron:203.0.113.7" || store.Calls[0].Limit != 10 {
		t.Errorf("unexpected store calls: %+v", store.Calls)
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Result: types.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(20 * time.Second)}}

	rec, called := serveLimited(srv, 10, httptest.NewRequest(http.MethodPost, "/", nil))
	if called {
		t.Fatal("handler must not run when limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != string(types.ErrCodeRateLimit) {
		t.Errorf("unexpected code %q", got)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 20 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Err: errors.New("redis: connection refused")}

	if _, called := serveLimited(srv, 10, httptest.NewRequest(http.MethodPost, "/", nil)); !called {
		t.Error("expected fail-open on store error")
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	srv := newTestServer(t)
	if _, called := serveLimited(srv, 10, httptest.NewRequest(http.MethodPost, "/", nil)); !called {
		t.Error("nil store must pass through")
	}

	store := &MockRateLimitStore{IncrementAndCheckFunc: func(context.Context, string, int, time.Duration) (types.RateLimitResult, error) {
		t.Fatal("store must not be called with limit 0")
		return types.RateLimitResult{}, nil
	}}
	srv.RateLimitStore = store
	if _, called := serveLimited(srv, 0, httptest.NewRequest(http.MethodPost, "/", nil)); !called {
		t.Error("zero limit must pass through")
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		hops       int
		want       string
	}{
		{"forwarded ignored without trusted proxies", "198.51.100.1", "10.0.0.2:443", 0, "10.0.0.2"},
		{"one proxy takes the last entry", "1.2.3.4, 198.51.100.1", "10.0.0.2:443", 1, "198.51.100.1"},
		{"two proxies", "1.2.3.4, 198.51.100.1, 10.0.0.1", "10.0.0.2:443", 2, "198.51.100.1"},
		{"fewer entries than hops", "198.51.100.1", "10.0.0.2:443", 3, "198.51.100.1"},
		{"remote addr with port", "", "192.0.2.10:5555", 1, "192.0.2.10"},
		{"remote addr without port", "", "192.0.2.10", 0, "192.0.2.10"},
		{"blank forwarded", " ", "192.0.2.11:1", 1, "192.0.2.11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(req, tt.hops); got != tt.want {
				t.Errorf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_ForwardedForRotationSharesBucket(t *testing.T) {
	srv := newTestServer(t)
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 1, ResetAt: time.Now().Add(time.Minute)}}
	srv.RateLimitStore = store

	for _, spoofed := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil)
		req.RemoteAddr = "203.0.113.7:5123"
		req.Header.Set("X-Forwarded-For", spoofed)
		serveLimited(srv, 10, req)
	}

	if len(store.Calls) != 2 {
		t.Fatalf("expected 2 store calls, got %d", len(store.Calls))
	}
	for _, c := range store.Calls {
		if c.Key != "cron:203.0.113.7" {
			t.Errorf("rotating X-Forwarded-For must not change the bucket, got key %q", c.Key)
		}
	}
}

func TestRateLimit_TrustedProxyUsesForwardedAddress(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Server.TrustedProxyHops = 1
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 1, ResetAt: time.Now().Add(time.Minute)}}
	srv.RateLimitStore = store

	req := httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil)
	req.RemoteAddr = "10.0.0.2:443"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 198.51.100.9")
	serveLimited(srv, 10, req)

	if len(store.Calls) != 1 || store.Calls[0].Key != "cron:198.51.100.9" {
		t.Errorf("expected the proxy-appended address, got %+v", store.Calls)
	}
}
