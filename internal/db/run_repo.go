package db

import (
	"context"

	"carewatch/internal/types"
)

// RunHistoryRepository provides data access for the append-only
// monitoring_runs table. Rows are written for operational visibility only;
// no run ever reads them.
type RunHistoryRepository struct {
	db DBTX
}

// NewRunHistoryRepository creates a new RunHistoryRepository.
func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// Start inserts a running row and returns its BIGSERIAL ID.
func (r *RunHistoryRepository) Start(ctx context.Context, trigger string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO monitoring_runs (trigger, started_at, status)
		 VALUES ($1, NOW(), $2)
		 RETURNING id`,
		trigger,
		types.RunStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start monitoring run entry", err)
	}
	return id, nil
}

// Finish records the outcome of run id. items is the number of patients
// monitored; runErr, when non-nil, is stored in the error column.
func (r *RunHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE monitoring_runs
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish monitoring run entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "monitoring run entry not found", nil)
	}
	return nil
}
