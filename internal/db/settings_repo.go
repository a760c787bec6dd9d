package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carewatch/internal/types"
)

// SettingsRepository reads the persisted monitoring settings row.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetMonitoringSettings returns the threshold overrides document, or nil when
// no settings row exists.
func (r *SettingsRepository) GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error) {
	var overrides types.ThresholdOverrides
	err := r.db.QueryRow(ctx,
		`SELECT thresholds FROM monitoring_settings WHERE id = 1`,
	).Scan(&overrides)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read monitoring settings", err)
	}
	return &overrides, nil
}
