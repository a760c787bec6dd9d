package db

import (
	"context"
	"time"

	"carewatch/internal/types"
)

// PatientRepository reads patients and their recent clinical records.
// It never writes.
type PatientRepository struct {
	db DBTX
}

// NewPatientRepository creates a new PatientRepository.
func NewPatientRepository(db DBTX) *PatientRepository {
	return &PatientRepository{db: db}
}

// ListActive returns every active, non-deleted patient across all centres.
func (r *PatientRepository) ListActive(ctx context.Context) ([]types.Patient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, center_id, display_name
		 FROM patients
		 WHERE status = 'active' AND deleted_at IS NULL
		 ORDER BY id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active patients", err)
	}
	defer rows.Close()

	patients := make([]types.Patient, 0)
	for rows.Next() {
		var p types.Patient
		if err := rows.Scan(&p.ID, &p.CenterID, &p.DisplayName); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan patient", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating patients", err)
	}
	return patients, nil
}

// GetRecentRecords fetches the sessions, metric readings, last contact and
// unanswered message count for one patient in the window [since, asOf].
// Nothing recorded after asOf is read, so a replay sees the data as it stood
// at that instant. Sessions and metrics are returned oldest first.
// LastContactAt and UnansweredMessages are nil when the patient has no such
// data.
func (r *PatientRepository) GetRecentRecords(ctx context.Context, patientID string, since, asOf time.Time) (types.PatientRecords, error) {
	var rec types.PatientRecords

	sessions, err := r.sessions(ctx, patientID, since, asOf)
	if err != nil {
		return rec, err
	}
	rec.Sessions = sessions

	metrics, err := r.metrics(ctx, patientID, since, asOf)
	if err != nil {
		return rec, err
	}
	rec.Metrics = metrics

	// Last contact is the later of the last patient-sent message and the
	// last attended session.
	var lastContact *time.Time
	err = r.db.QueryRow(ctx,
		`SELECT GREATEST(
		   (SELECT MAX(sent_at) FROM patient_messages
		    WHERE patient_id = $1 AND direction = 'inbound' AND sent_at <= $2),
		   (SELECT MAX(scheduled_at) FROM therapy_sessions
		    WHERE patient_id = $1 AND status = 'attended' AND scheduled_at <= $2))`,
		patientID,
		asOf,
	).Scan(&lastContact)
	if err != nil {
		return rec, types.NewAppError(types.ErrCodeInternalDB, "failed to read last contact", err)
	}
	rec.LastContactAt = lastContact

	// Unanswered: outbound assistant messages after the last inbound one.
	var total, unanswered int
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (
		          WHERE m.direction = 'outbound' AND m.sender = 'assistant'
		            AND m.sent_at > COALESCE(
		              (SELECT MAX(i.sent_at) FROM patient_messages i
		               WHERE i.patient_id = $1 AND i.direction = 'inbound' AND i.sent_at <= $3),
		              '-infinity'::timestamptz))
		 FROM patient_messages m
		 WHERE m.patient_id = $1 AND m.sent_at >= $2 AND m.sent_at <= $3`,
		patientID,
		since,
		asOf,
	).Scan(&total, &unanswered)
	if err != nil {
		return rec, types.NewAppError(types.ErrCodeInternalDB, "failed to count unanswered messages", err)
	}
	if total > 0 {
		rec.UnansweredMessages = &unanswered
	}

	return rec, nil
}

func (r *PatientRepository) sessions(ctx context.Context, patientID string, since, asOf time.Time) ([]types.SessionRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT scheduled_at, status
		 FROM therapy_sessions
		 WHERE patient_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		 ORDER BY scheduled_at ASC`,
		patientID,
		since,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query sessions", err)
	}
	defer rows.Close()

	var out []types.SessionRecord
	for rows.Next() {
		var s types.SessionRecord
		var status string
		if err := rows.Scan(&s.ScheduledAt, &status); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan session", err)
		}
		s.Status = types.SessionStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating sessions", err)
	}
	return out, nil
}

func (r *PatientRepository) metrics(ctx context.Context, patientID string, since, asOf time.Time) ([]types.MetricReading, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, value, recorded_at
		 FROM patient_metrics
		 WHERE patient_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		 ORDER BY name, recorded_at ASC`,
		patientID,
		since,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query metrics", err)
	}
	defer rows.Close()

	var out []types.MetricReading
	for rows.Next() {
		var m types.MetricReading
		if err := rows.Scan(&m.Name, &m.Value, &m.RecordedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan metric", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating metrics", err)
	}
	return out, nil
}
