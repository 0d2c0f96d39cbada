package repo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestPostgres_SaveUpserts(t *testing.T) {
	r, mock := newMockRepo(t)
	s := storedSignal(1)

	mock.ExpectExec(`INSERT INTO signals`).
		WithArgs(s.SignalID, s.InputEventHash, s.TraceID, s.GeneratedAt, s.EmittedAt,
			s.Probability, string(s.ConfidenceLevel), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Save(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindByHash(t *testing.T) {
	r, mock := newMockRepo(t)
	s := storedSignal(2)
	payload, err := json.Marshal(s)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM signals WHERE input_event_hash`).
		WithArgs(s.InputEventHash).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := r.FindByHash(context.Background(), s.InputEventHash)
	require.NoError(t, err)
	assert.Equal(t, s.SignalID, got.SignalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindByIDNotFound(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT payload FROM signals WHERE signal_id`).
		WithArgs("OMEN-MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := r.FindByID(context.Background(), "OMEN-MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_FindRecent(t *testing.T) {
	r, mock := newMockRepo(t)
	newer, older := storedSignal(5), storedSignal(4)
	p5, _ := json.Marshal(newer)
	p4, _ := json.Marshal(older)

	mock.ExpectQuery(`SELECT payload FROM signals WHERE generated_at`).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(p5).AddRow(p4))

	got, err := r.FindRecent(context.Background(), 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.SignalID, got[0].SignalID)
}
