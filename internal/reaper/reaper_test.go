// Copyright 2025 James Ross
package reaper

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScanOnceRestoresExpiredLeases(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	store := queue.New(sqlxDB, zap.NewNop())
	r := New(store, 0, zap.NewNop())

	mock.ExpectExec(`UPDATE queue_jobs`).WillReturnResult(sqlmock.NewResult(0, 2))

	r.scanOnce(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanOnceLogsButDoesNotPanicOnError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	store := queue.New(sqlxDB, zap.NewNop())
	r := New(store, 0, zap.NewNop())

	mock.ExpectExec(`UPDATE queue_jobs`).WillReturnError(context.DeadlineExceeded)

	r.scanOnce(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
}
