package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carewatch/internal/types"
)

func TestPatientRepository_ListActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"p-1", "center-a", "Ana"},
		{"p-2", "center-b", "Luis"},
	})
	db.On("Query", ctx, sqlContains("status = 'active'"), mock.Anything).Return(rows, nil)

	patients, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, types.Patient{ID: "p-1", CenterID: "center-a", DisplayName: "Ana"}, patients[0])
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestPatientRepository_ListActive_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(nil), nil)

	patients, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, patients)
	assert.Empty(t, patients)
}

func TestPatientRepository_ListActive_Errors(t *testing.T) {
	t.Run("query error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := NewPatientRepository(db).ListActive(context.Background())
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})

	t.Run("iteration error", func(t *testing.T) {
		db := new(mockDBTX)
		rows := newMockRows(nil)
		rows.errVal = errors.New("conn reset")
		db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

		_, err := NewPatientRepository(db).ListActive(context.Background())
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})
}

func TestPatientRepository_GetRecentRecords(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s1 := since.AddDate(0, 0, 7)
	s2 := since.AddDate(0, 0, 14)
	lastContact := since.AddDate(0, 0, 20)
	asOf := since.AddDate(0, 0, 30)

	db.On("Query", ctx, sqlContains("FROM therapy_sessions"), []any{"p-1", since, asOf}).
		Return(newMockRows([][]any{{s1, "attended"}, {s2, "missed"}}), nil)
	db.On("Query", ctx, sqlContains("FROM patient_metrics"), []any{"p-1", since, asOf}).
		Return(newMockRows([][]any{{"mood_score", 7.0, s1}, {"mood_score", 4.0, s2}}), nil)
	db.On("QueryRow", ctx, sqlContains("GREATEST"), []any{"p-1", asOf}).
		Return(&mockRow{values: []any{&lastContact}})
	db.On("QueryRow", ctx, sqlContains("FILTER"), []any{"p-1", since, asOf}).
		Return(&mockRow{values: []any{5, 2}})

	rec, err := repo.GetRecentRecords(ctx, "p-1", since, asOf)
	require.NoError(t, err)

	require.Len(t, rec.Sessions, 2)
	assert.Equal(t, types.SessionMissed, rec.Sessions[1].Status)
	require.Len(t, rec.Metrics, 2)
	assert.Equal(t, 4.0, rec.Metrics[1].Value)
	require.NotNil(t, rec.LastContactAt)
	assert.Equal(t, lastContact, *rec.LastContactAt)
	require.NotNil(t, rec.UnansweredMessages)
	assert.Equal(t, 2, *rec.UnansweredMessages)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetRecentRecords_NoData(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)

	db.On("Query", mock.Anything, sqlContains("FROM therapy_sessions"), mock.Anything).Return(newMockRows(nil), nil)
	db.On("Query", mock.Anything, sqlContains("FROM patient_metrics"), mock.Anything).Return(newMockRows(nil), nil)
	db.On("QueryRow", mock.Anything, sqlContains("GREATEST"), mock.Anything).Return(&mockRow{values: []any{nil}})
	db.On("QueryRow", mock.Anything, sqlContains("FILTER"), mock.Anything).Return(&mockRow{values: []any{0, 0}})

	now := time.Now()
	rec, err := repo.GetRecentRecords(context.Background(), "p-9", now.AddDate(0, 0, -90), now)
	require.NoError(t, err)
	assert.Empty(t, rec.Sessions)
	assert.Empty(t, rec.Metrics)
	assert.Nil(t, rec.LastContactAt)
	assert.Nil(t, rec.UnansweredMessages, "no messages at all means the rule has no data")
}

func TestPatientRepository_GetRecentRecords_SessionError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, sqlContains("FROM therapy_sessions"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := NewPatientRepository(db).GetRecentRecords(context.Background(), "p-1", time.Now().AddDate(0, 0, -90), time.Now())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

// A replay at a past instant must not see anything recorded after it. Every
// statement, including the MAX subqueries, is bounded by the as-of argument.
func TestPatientRepository_GetRecentRecords_BoundedByAsOf(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	since := asOf.AddDate(0, 0, -90)

	var statements []string
	capture := func(args mock.Arguments) {
		sql := args.String(1)
		statements = append(statements, sql)
		assert.Contains(t, args.Get(2).([]any), asOf, "as-of instant missing from args of %q", sql)
		assert.NotContains(t, sql, "NOW()", "queries must not read up to the database clock")
	}

	db.On("Query", ctx, sqlContains("FROM therapy_sessions"), mock.Anything).Run(capture).Return(newMockRows(nil), nil)
	db.On("Query", ctx, sqlContains("FROM patient_metrics"), mock.Anything).Run(capture).Return(newMockRows(nil), nil)
	db.On("QueryRow", ctx, sqlContains("GREATEST"), mock.Anything).Run(capture).Return(&mockRow{values: []any{nil}})
	db.On("QueryRow", ctx, sqlContains("FILTER"), mock.Anything).Run(capture).Return(&mockRow{values: []any{0, 0}})

	_, err := repo.GetRecentRecords(ctx, "p-1", since, asOf)
	require.NoError(t, err)
	require.Len(t, statements, 4)

	assert.Contains(t, statements[0], "scheduled_at <= $3")
	assert.Contains(t, statements[1], "recorded_at <= $3")
	assert.Contains(t, statements[2], "sent_at <= $2")
	assert.Contains(t, statements[2], "scheduled_at <= $2")
	assert.Contains(t, statements[3], "i.sent_at <= $3")
	assert.Contains(t, statements[3], "m.sent_at <= $3")
	db.AssertExpectations(t)
}
