package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carewatch/internal/types"
)

// CaseRepository provides data access for the critical_cases table.
// The partial unique index critical_cases_one_open_per_patient guarantees at
// most one open case per patient; InsertOpen relies on it for atomicity.
type CaseRepository struct {
	db DBTX
}

// NewCaseRepository creates a new CaseRepository.
func NewCaseRepository(db DBTX) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `id, patient_id, risk_level, reasons, status, created_at, resolved_at`

func scanCase(row pgx.Row) (*types.CriticalCase, error) {
	var c types.CriticalCase
	var reasons types.StringList
	var level, status string
	if err := row.Scan(&c.ID, &c.PatientID, &level, &reasons, &status, &c.CreatedAt, &c.ResolvedAt); err != nil {
		return nil, err
	}
	c.RiskLevel = types.RiskLevel(level)
	c.Status = types.CaseStatus(status)
	c.Reasons = []string(reasons)
	return &c, nil
}

// FindOpenByPatient returns the patient's open case, or nil when none exists.
func (r *CaseRepository) FindOpenByPatient(ctx context.Context, patientID string) (*types.CriticalCase, error) {
	c, err := scanCase(r.db.QueryRow(ctx,
		`SELECT `+caseColumns+`
		 FROM critical_cases
		 WHERE patient_id = $1 AND status = 'open'`,
		patientID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find open case", err)
	}
	return c, nil
}

// InsertOpen atomically inserts c as an open case. It returns false when a
// concurrent writer already holds the patient's open case; in that case c is
// left untouched. On success c.CreatedAt is set from the database.
//
// SQL pattern:
//
//	INSERT INTO critical_cases (...) VALUES (...)
//	ON CONFLICT (patient_id) WHERE status = 'open' DO NOTHING
//	RETURNING created_at
func (r *CaseRepository) InsertOpen(ctx context.Context, c *types.CriticalCase) (bool, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO critical_cases (id, patient_id, risk_level, reasons, status, created_at)
		 VALUES ($1, $2, $3, $4, 'open', $5)
		 ON CONFLICT (patient_id) WHERE status = 'open' DO NOTHING
		 RETURNING created_at`,
		c.ID,
		c.PatientID,
		string(c.RiskLevel),
		types.StringList(c.Reasons),
		c.CreatedAt,
	).Scan(&c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert critical case", err)
	}
	c.Status = types.CaseStatusOpen
	return true, nil
}

// ListOpen returns open cases, most severe first and newest first within a
// level.
func (r *CaseRepository) ListOpen(ctx context.Context, limit int) ([]types.CriticalCase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+caseColumns+`
		 FROM critical_cases
		 WHERE status = 'open'
		 ORDER BY CASE risk_level WHEN 'critical' THEN 0 WHEN 'high' THEN 1 ELSE 2 END,
		          created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list open cases", err)
	}
	defer rows.Close()

	cases := make([]types.CriticalCase, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan critical case", err)
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating critical cases", err)
	}
	return cases, nil
}
