package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carewatch/internal/core"
	"carewatch/internal/types"
)

// SettingsReader returns the stored threshold overrides, or nil.
type SettingsReader interface {
	GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error)
}

// SettingsInvalidator drops cached settings. Implemented by
// cache.SettingsCache.
type SettingsInvalidator interface {
	Invalidate(ctx context.Context) error
}

// SettingsHandler exposes the effective monitoring thresholds.
type SettingsHandler struct {
	base     types.Thresholds
	settings SettingsReader
	cache    SettingsInvalidator
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler. base is the configured rule
// table; cache may be nil when Redis is disabled.
func NewSettingsHandler(base types.Thresholds, settings SettingsReader, cache SettingsInvalidator, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{base: base, settings: settings, cache: cache, logger: logger}
}

// RegisterRoutes mounts the settings endpoints behind the admin guard.
func (h *SettingsHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.Route("/settings/monitoring", func(r chi.Router) {
		r.Use(srv.AdminMiddleware()...)
		r.Get("/", h.HandleGet)
		r.Post("/refresh", h.HandleRefresh)
	})
}

// settingsResponse shows what the next run will use.
type settingsResponse struct {
	Configured types.Thresholds          `json:"configured"`
	Overrides  *types.ThresholdOverrides `json:"overrides"`
	Effective  types.Thresholds          `json:"effective"`
	// OverridesRejected is set when the stored overrides fail validation;
	// runs then fall back to the configured table.
	OverridesRejected string `json:"overrides_rejected,omitempty"`
}

// HandleGet handles GET /v1/settings/monitoring.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.settings.GetMonitoringSettings(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := settingsResponse{Configured: h.base, Overrides: overrides, Effective: h.base}
	if overrides != nil {
		merged := overrides.Apply(h.base)
		if err := merged.Validate(); err != nil {
			resp.OverridesRejected = err.Error()
		} else {
			resp.Effective = merged
		}
	}
	core.Data(w, r, http.StatusOK, resp)
}

// HandleRefresh handles POST /v1/settings/monitoring/refresh. Staff update
// the settings row directly; this drops the cached copy so the next run
// reads it.
func (h *SettingsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			types.LoggerFromContext(r.Context(), h.logger).WarnContext(r.Context(), "settings cache invalidation failed", "error", err)
			core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "settings cache is unavailable", err))
			return
		}
	}
	core.Data(w, r, http.StatusOK, map[string]bool{"refreshed": true})
}
