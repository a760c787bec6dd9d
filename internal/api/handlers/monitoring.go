// Package handlers contains the HTTP handler implementations for the
// CareWatch API:
//   - the monitoring trigger (POST /v1/cron/monitor-patients)
//   - open critical cases for staff (GET /v1/cases)
//   - threshold settings (GET /v1/settings/monitoring, POST .../refresh)
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"carewatch/internal/core"
	"carewatch/internal/monitoring"
	"carewatch/internal/types"
)

// RunTrigger runs one monitoring pass. Implemented by monitoring.Pipeline.
type RunTrigger interface {
	Run(ctx context.Context) (*types.RunSummary, error)
}

// CaseLister reads open critical cases. Implemented by db.CaseRepository.
type CaseLister interface {
	ListOpen(ctx context.Context, limit int) ([]types.CriticalCase, error)
}

// MonitoringHandler exposes the monitoring run and its outputs.
type MonitoringHandler struct {
	runner    RunTrigger
	cases     CaseLister
	validator *core.Validator
	logger    *slog.Logger
}

// NewMonitoringHandler creates a MonitoringHandler.
func NewMonitoringHandler(runner RunTrigger, cases CaseLister, val *core.Validator, logger *slog.Logger) *MonitoringHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator()
	}
	return &MonitoringHandler{runner: runner, cases: cases, validator: val, logger: logger}
}

// RegisterRoutes mounts the monitoring endpoints under /v1 with the server's
// cron and admin guards.
func (h *MonitoringHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.With(srv.CronMiddleware()...).Post("/cron/monitor-patients", h.HandleTrigger)
	r.With(srv.AdminMiddleware()...).Get("/cases", h.HandleListCases)
}

// TriggerRequest is the optional body of the monitoring trigger.
type TriggerRequest struct {
	// ReferenceTime replaces "now" as the evaluation instant.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// HandleTrigger handles POST /v1/cron/monitor-patients. The body may be
// empty. A completed run answers 200 with the summary, even when some
// patients were skipped or some alerts failed; a fatal failure answers with
// an error whose details carry the stage.
func (h *MonitoringHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := core.DecodeJSON(w, r, &req, true); err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := types.WithTrigger(r.Context(), types.TriggerHTTP)
	if req.ReferenceTime != nil {
		ctx = types.WithReferenceTime(ctx, *req.ReferenceTime)
	}

	summary, err := h.runner.Run(ctx)
	if err != nil {
		core.Error(w, r, RunFailure(err))
		return
	}
	core.Data(w, r, http.StatusOK, summary)
}

// RunFailure converts a pipeline error into the AppError returned to
// callers. The code of an AppError inside the chain is kept (persistence
// outages stay 503); anything else becomes internal_monitoring_run_failed.
// details.stage names the state the run aborted in.
func RunFailure(err error) *types.AppError {
	details := map[string]any{}
	var runErr *monitoring.RunError
	if errors.As(err, &runErr) {
		details["stage"] = string(runErr.Stage)
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(details)
	}

	msg := "monitoring run failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "monitoring run exceeded its deadline"
	case errors.Is(err, context.Canceled):
		msg = "monitoring run was cancelled"
	}
	return types.NewAppErrorWithDetails(types.ErrCodeInternalMonitoringRunFailed, msg, err, details)
}

// listCasesParams are the query parameters of GET /v1/cases.
type listCasesParams struct {
	Limit int `form:"limit" validate:"min=1,max=500"`
}

const defaultCaseLimit = 100

// HandleListCases handles GET /v1/cases?limit=N. Cases are ordered most
// severe first, newest first within a level.
func (h *MonitoringHandler) HandleListCases(w http.ResponseWriter, r *http.Request) {
	params := listCasesParams{Limit: defaultCaseLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"limit must be an integer", nil, map[string]any{"fields": map[string]any{"limit": "integer"}}))
			return
		}
		params.Limit = n
	}
	if err := h.validator.ValidateStruct(params); err != nil {
		core.Error(w, r, err)
		return
	}

	cases, err := h.cases.ListOpen(r.Context(), params.Limit)
	if err != nil {
		types.LoggerFromContext(r.Context(), h.logger).ErrorContext(r.Context(), "failed to list open cases", "error", err)
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, cases)
}
