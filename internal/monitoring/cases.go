package monitoring

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"carewatch/internal/types"
)

// maxInsertAttempts bounds the find/insert loop. A second attempt only
// happens when the case that beat us was resolved before we could read it.
const maxInsertAttempts = 2

// CaseManager opens critical cases idempotently.
type CaseManager struct {
	store  CaseStore
	clock  types.Clock
	logger *slog.Logger
}

// NewCaseManager creates a CaseManager.
func NewCaseManager(store CaseStore, clock types.Clock, logger *slog.Logger) *CaseManager {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaseManager{store: store, clock: clock, logger: logger}
}

// CreateCriticalCaseIfNeeded ensures an open case exists for a high or
// critical result. It returns nil for lower levels. When a case is already
// open it is returned unchanged with created=false; the first case wins and
// later results never modify it.
func (m *CaseManager) CreateCriticalCaseIfNeeded(ctx context.Context, patientID string, result types.MonitoringResult) (*types.CriticalCase, bool, error) {
	if !result.RiskLevel.RequiresCase() {
		return nil, false, nil
	}
	if patientID == "" {
		return nil, false, types.NewAppError(types.ErrCodeValidationMissingField, "patient_id is required", nil)
	}

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		existing, err := m.store.FindOpenByPatient(ctx, patientID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		c := &types.CriticalCase{
			ID:        uuid.New(),
			PatientID: patientID,
			RiskLevel: result.RiskLevel,
			Reasons:   result.ReasonMessages(),
			CreatedAt: m.clock.Now(),
		}
		inserted, err := m.store.InsertOpen(ctx, c)
		if err != nil {
			return nil, false, err
		}
		if inserted {
			m.logger.InfoContext(ctx, "critical case opened",
				"case_id", c.ID.String(),
				"patient_id", patientID,
				"risk_level", string(c.RiskLevel),
			)
			return c, true, nil
		}

		// Lost the race to a concurrent run; re-read the winner.
		m.logger.DebugContext(ctx, "open case created concurrently",
			"patient_id", patientID,
			"attempt", attempt,
		)
	}

	return nil, false, types.NewAppErrorWithDetails(types.ErrCodeConflictOpenCase,
		"could not settle the open case for patient", nil,
		map[string]any{"patient_id": patientID})
}
