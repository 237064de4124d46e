// Copyright 2025 James Ross
package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/bozzfozz/harmony-sub001/internal/retrypolicy"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := queue.New(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	policies := retrypolicy.New(&config.Config{RetryPolicy: config.RetryPolicyDefaults{MaxAttempts: 5, BaseSeconds: 1, JitterPct: 0.1, ReloadIntervalS: 10}})
	cfg := config.Orchestrator{
		GlobalConcurrency: 2,
		HeartbeatS:        1,
		PoolSizes:         map[string]int{"sync": 1},
	}
	return New(store, policies, cfg, zap.NewNop()), mock
}

func TestTryDispatchRunsHandlerAndCommitsOnSuccess(t *testing.T) {
	d, mock := testDispatcher(t)
	done := make(chan struct{})
	d.Register("sync", func(ctx context.Context, job queue.Job) (Outcome, error) {
		defer close(done)
		return Success, nil
	})

	mock.ExpectExec(`UPDATE queue_jobs SET state = 'succeeded'`).WillReturnResult(sqlmock.NewResult(0, 1))

	ok := d.TryDispatch(context.Background(), queue.Job{ID: 1, Type: "sync", Attempts: 1}, 10*time.Second)
	assert.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	d.Shutdown(time.Second)
}

func TestTryDispatchReturnsFalseWhenPoolSaturated(t *testing.T) {
	d, _ := testDispatcher(t)
	block := make(chan struct{})
	d.Register("sync", func(ctx context.Context, job queue.Job) (Outcome, error) {
		<-block
		return Success, nil
	})

	ok1 := d.TryDispatch(context.Background(), queue.Job{ID: 1, Type: "sync"}, 10*time.Second)
	require.True(t, ok1)

	ok2 := d.TryDispatch(context.Background(), queue.Job{ID: 2, Type: "sync"}, 10*time.Second)
	assert.False(t, ok2)

	close(block)
	d.Shutdown(time.Second)
}
