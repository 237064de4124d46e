// Copyright 2025 James Ross
package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), zap.NewNop()), mock
}

func TestEnqueueDeduplicatesOnIdempotencyKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM queue_jobs`).
		WithArgs("sync", "watchlist:artist:1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	id, dedup, err := store.Enqueue(context.Background(), "sync", []byte(`{}`), EnqueueOptions{
		IdempotencyKey: "watchlist:artist:1",
	})
	require.NoError(t, err)
	assert.True(t, dedup)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueInsertsWhenNoDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM queue_jobs`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO queue_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	id, dedup, err := store.Enqueue(context.Background(), "matching", []byte(`{}`), EnqueueOptions{
		IdempotencyKey: "matching:1",
		Priority:       90,
	})
	require.NoError(t, err)
	assert.False(t, dedup)
	assert.Equal(t, int64(7), id)
}

func TestHeartbeatLeaseLost(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE queue_jobs SET lease_until`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Heartbeat(context.Background(), 9, "tok-1", time.Now())
	require.Error(t, err)
}

func TestCommitSucceedsWhenLeaseHeld(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE queue_jobs SET state = 'succeeded'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Commit(context.Background(), 9, "tok-1")
	require.NoError(t, err)
}

func TestCommitFailsWhenLeaseTokenStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE queue_jobs SET state = 'succeeded'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Commit(context.Background(), 9, "stale-token")
	require.Error(t, err)
}
