package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carewatch/internal/config"
	"carewatch/internal/core"
	"carewatch/internal/monitoring"
	"carewatch/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockRunner struct {
	runFn func(ctx context.Context) (*types.RunSummary, error)

	capturedTrigger types.Trigger
	capturedAsOf    time.Time
	calls           int
}

func (m *mockRunner) Run(ctx context.Context) (*types.RunSummary, error) {
	m.calls++
	m.capturedTrigger = types.GetTrigger(ctx)
	if t, ok := types.ReferenceTime(ctx); ok {
		m.capturedAsOf = t
	}
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return &types.RunSummary{}, nil
}

type mockCaseLister struct {
	listFn        func(ctx context.Context, limit int) ([]types.CriticalCase, error)
	capturedLimit int
}

func (m *mockCaseLister) ListOpen(ctx context.Context, limit int) ([]types.CriticalCase, error) {
	m.capturedLimit = limit
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return []types.CriticalCase{}, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

type errorEnvelope struct {
	Error core.ErrorDetail `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func newTestMonitoringHandler(runner *mockRunner, cases *mockCaseLister) *MonitoringHandler {
	return NewMonitoringHandler(runner, cases, nil, slog.Default())
}

func triggerRequest(body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", nil)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/cron/monitor-patients", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// =============================================================================
// HandleTrigger
// =============================================================================

func TestHandleTrigger_EmptyBody(t *testing.T) {
	runner := &mockRunner{runFn: func(context.Context) (*types.RunSummary, error) {
		return &types.RunSummary{Monitored: 3, Critical: 1, CasesCreated: 1, AlertsSent: 1}, nil
	}}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})

	rec := httptest.NewRecorder()
	h.HandleTrigger(rec, triggerRequest(""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, types.TriggerHTTP, runner.capturedTrigger)
	assert.True(t, runner.capturedAsOf.IsZero(), "no reference time without a body")

	var resp struct {
		Data types.RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Monitored)
	assert.Equal(t, 1, resp.Data.CasesCreated)
}

func TestHandleTrigger_ReferenceTime(t *testing.T) {
	runner := &mockRunner{}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})

	rec := httptest.NewRecorder()
	h.HandleTrigger(rec, triggerRequest(`{"reference_time":"2026-03-01T09:30:00+02:00"}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	assert.True(t, runner.capturedAsOf.Equal(want), "got %v", runner.capturedAsOf)
	assert.Equal(t, time.UTC, runner.capturedAsOf.Location())
}

func TestHandleTrigger_MalformedBody(t *testing.T) {
	runner := &mockRunner{}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})

	rec := httptest.NewRecorder()
	h.HandleTrigger(rec, triggerRequest(`{"reference_time":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, runner.calls, "runner must not run on a bad body")
}

func TestHandleTrigger_PersistenceOutage(t *testing.T) {
	runner := &mockRunner{runFn: func(context.Context) (*types.RunSummary, error) {
		return nil, &monitoring.RunError{
			Stage: types.RunStateEvaluating,
			Err:   types.NewAppError(types.ErrCodeUpstreamPersistenceUnavailable, "patient store unavailable", errors.New("dial tcp: refused")),
		}
	}}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})

	rec := httptest.NewRecorder()
	h.HandleTrigger(rec, triggerRequest(""))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeUpstreamPersistenceUnavailable), detail.Code)
	assert.Equal(t, "evaluating", detail.Details["stage"])
}

func TestHandleTrigger_UntypedFailure(t *testing.T) {
	runner := &mockRunner{runFn: func(context.Context) (*types.RunSummary, error) {
		return nil, &monitoring.RunError{Stage: types.RunStateCaseReconciliation, Err: errors.New("boom")}
	}}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})

	rec := httptest.NewRecorder()
	h.HandleTrigger(rec, triggerRequest(""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalMonitoringRunFailed), detail.Code)
	assert.Equal(t, "case_reconciliation", detail.Details["stage"])
}

// =============================================================================
// RunFailure
// =============================================================================

func TestRunFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  types.ErrorCode
		wantMsg   string
		wantStage string
	}{
		{
			name:     "deadline",
			err:      &monitoring.RunError{Stage: types.RunStateAlerting, Err: context.DeadlineExceeded},
			wantCode: types.ErrCodeInternalMonitoringRunFailed, wantMsg: "monitoring run exceeded its deadline", wantStage: "alerting",
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			wantCode: types.ErrCodeInternalMonitoringRunFailed, wantMsg: "monitoring run was cancelled",
		},
		{
			name:     "app error keeps its code",
			err:      types.NewAppError(types.ErrCodeInternalDB, "query failed", nil),
			wantCode: types.ErrCodeInternalDB, wantMsg: "query failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RunFailure(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMsg, got.Message)
			if tt.wantStage == "" {
				assert.NotContains(t, got.Details, "stage")
			} else {
				assert.Equal(t, tt.wantStage, got.Details["stage"])
			}
		})
	}
}

// =============================================================================
// HandleListCases
// =============================================================================

func TestHandleListCases_DefaultLimit(t *testing.T) {
	id := uuid.New()
	lister := &mockCaseLister{listFn: func(context.Context, int) ([]types.CriticalCase, error) {
		return []types.CriticalCase{{ID: id, PatientID: "p-1", RiskLevel: types.RiskCritical, Status: types.CaseStatusOpen}}, nil
	}}
	h := newTestMonitoringHandler(&mockRunner{}, lister)

	rec := httptest.NewRecorder()
	h.HandleListCases(rec, httptest.NewRequest(http.MethodGet, "/v1/cases", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, defaultCaseLimit, lister.capturedLimit)

	var resp struct {
		Data []types.CriticalCase `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, id, resp.Data[0].ID)
}

func TestHandleListCases_LimitValidation(t *testing.T) {
	tests := []struct {
		query    string
		wantCode int
		wantArg  int
	}{
		{query: "limit=25", wantCode: http.StatusOK, wantArg: 25},
		{query: "limit=0", wantCode: http.StatusBadRequest},
		{query: "limit=501", wantCode: http.StatusBadRequest},
		{query: "limit=ten", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			lister := &mockCaseLister{}
			h := newTestMonitoringHandler(&mockRunner{}, lister)

			rec := httptest.NewRecorder()
			h.HandleListCases(rec, httptest.NewRequest(http.MethodGet, "/v1/cases?"+tt.query, nil))

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantArg, lister.capturedLimit)
				return
			}
			assert.Equal(t, string(types.ErrCodeValidationInvalidField), decodeError(t, rec).Code)
			assert.Zero(t, lister.capturedLimit, "store must not be queried")
		})
	}
}

func TestHandleListCases_StoreError(t *testing.T) {
	lister := &mockCaseLister{listFn: func(context.Context, int) ([]types.CriticalCase, error) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list cases", errors.New("timeout"))
	}}
	h := newTestMonitoringHandler(&mockRunner{}, lister)

	rec := httptest.NewRecorder()
	h.HandleListCases(rec, httptest.NewRequest(http.MethodGet, "/v1/cases", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), decodeError(t, rec).Code)
}

// =============================================================================
// Routing
// =============================================================================

func TestMonitoringHandler_RoutesAreGuarded(t *testing.T) {
	srv, err := core.NewServer(&config.Config{
		Environment: "prod",
		Monitoring:  config.MonitoringConfig{CronSecret: "s3cret"},
		Security:    config.SecurityConfig{AdminAPIKey: "admin-key"},
	}, slog.Default())
	require.NoError(t, err)

	runner := &mockRunner{}
	h := newTestMonitoringHandler(runner, &mockCaseLister{})
	srv.V1RouteRegistrars = []func(chi.Router){func(r chi.Router) { h.RegisterRoutes(r, srv) }}
	srv.MountRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, triggerRequest(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, runner.calls)

	req := triggerRequest("")
	req.Header.Set(core.CronSecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, runner.calls)

	req = httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
	req.Header.Set(core.AdminKeyHeader, "admin-key")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
