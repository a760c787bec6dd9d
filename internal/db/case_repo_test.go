package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carewatch/internal/types"
)

func caseRow(id uuid.UUID, patientID, level string, createdAt time.Time) []any {
	return []any{id, patientID, level, []string{"3 consecutive missed sessions"}, "open", createdAt, nil}
}

func TestCaseRepository_FindOpenByPatient(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCaseRepository(db)
	ctx := context.Background()

	id := uuid.New()
	createdAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, sqlContains("status = 'open'"), []any{"p-1"}).
		Return(&mockRow{values: caseRow(id, "p-1", "high", createdAt)})

	c, err := repo.FindOpenByPatient(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, types.RiskHigh, c.RiskLevel)
	assert.Equal(t, types.CaseStatusOpen, c.Status)
	assert.Equal(t, []string{"3 consecutive missed sessions"}, c.Reasons)
	assert.Nil(t, c.ResolvedAt)
	db.AssertExpectations(t)
}

func TestCaseRepository_FindOpenByPatient_None(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	c, err := NewCaseRepository(db).FindOpenByPatient(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCaseRepository_FindOpenByPatient_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("broken pipe")})

	_, err := NewCaseRepository(db).FindOpenByPatient(context.Background(), "p-1")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestCaseRepository_InsertOpen(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCaseRepository(db)
	ctx := context.Background()

	dbTime := time.Date(2026, 2, 1, 9, 0, 1, 0, time.UTC)
	c := &types.CriticalCase{
		ID:        uuid.New(),
		PatientID: "p-1",
		RiskLevel: types.RiskCritical,
		Reasons:   []string{"no contact for 50 days"},
		CreatedAt: dbTime.Add(-time.Second),
	}

	db.On("QueryRow", ctx, sqlContains("ON CONFLICT (patient_id) WHERE status = 'open' DO NOTHING"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 5 &&
			args[0] == c.ID &&
			args[1] == "p-1" &&
			args[2] == "critical"
	})).Return(&mockRow{values: []any{dbTime}})

	inserted, err := repo.InsertOpen(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, dbTime, c.CreatedAt)
	assert.Equal(t, types.CaseStatusOpen, c.Status)
	db.AssertExpectations(t)
}

func TestCaseRepository_InsertOpen_Conflict(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	c := &types.CriticalCase{ID: uuid.New(), PatientID: "p-1", RiskLevel: types.RiskHigh}
	inserted, err := NewCaseRepository(db).InsertOpen(context.Background(), c)
	require.NoError(t, err, "a lost race is not an error")
	assert.False(t, inserted)
	assert.Empty(t, c.Status)
}

func TestCaseRepository_InsertOpen_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("disk full")})

	_, err := NewCaseRepository(db).InsertOpen(context.Background(), &types.CriticalCase{ID: uuid.New()})
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestCaseRepository_ListOpen(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCaseRepository(db)

	now := time.Now().UTC()
	rows := newMockRows([][]any{
		caseRow(uuid.New(), "p-1", "critical", now),
		caseRow(uuid.New(), "p-2", "high", now.Add(-time.Hour)),
	})
	db.On("Query", mock.Anything, sqlContains("LIMIT $1"), []any{100}).Return(rows, nil)

	cases, err := repo.ListOpen(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, types.RiskCritical, cases[0].RiskLevel)
	assert.Equal(t, "p-2", cases[1].PatientID)
	db.AssertExpectations(t)
}
