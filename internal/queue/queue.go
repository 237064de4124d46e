// Copyright 2025 James Ross
// Package queue implements the Queue Store (C1): a durable, Postgres-backed
// priority job queue with visibility leases, heartbeats, and a dead-letter
// tier. All mutating operations are transactional and safe under concurrent
// leasers.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/harmonyerr"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// State is one of the Job lifecycle states named in the data model.
type State string

const (
	StatePending   State = "pending"
	StateLeased    State = "leased"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// Job mirrors the `queue_jobs` table row.
type Job struct {
	ID              int64           `db:"id" json:"id"`
	Type            string          `db:"job_type" json:"type"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	Priority        int             `db:"priority" json:"priority"`
	State           State           `db:"state" json:"state"`
	Attempts        int             `db:"attempts" json:"attempts"`
	AvailableAt     time.Time       `db:"available_at" json:"available_at"`
	LeaseUntil      sql.NullTime    `db:"lease_until" json:"lease_until,omitempty"`
	LeaseToken      sql.NullString  `db:"lease_token" json:"-"`
	LastHeartbeat   sql.NullTime    `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	LastError       sql.NullString  `db:"last_error" json:"last_error,omitempty"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// DeadLetter mirrors the `dead_letter` table row.
type DeadLetter struct {
	ID       int64           `db:"id" json:"id"`
	JobID    int64           `db:"job_id" json:"job_id"`
	Type     string          `db:"job_type" json:"type"`
	Payload  json.RawMessage `db:"payload" json:"payload"`
	Reason   string          `db:"reason" json:"reason"`
	Attempts int             `db:"attempts" json:"attempts"`
	FailedAt time.Time       `db:"failed_at" json:"failed_at"`
}

// EnqueueOptions carries the optional fields accepted by Enqueue.
type EnqueueOptions struct {
	Priority       int
	AvailableAt    time.Time
	IdempotencyKey string
}

// Store is the Queue Store: the single relational-backed home for every
// queued job, its lease state, and its dead-letter history.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// New returns a Store bound to an open Postgres connection pool.
func New(db *sqlx.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Enqueue inserts a new pending job, or — if idempotencyKey matches a
// live (non-terminal) job of the same type — returns the existing job's
// id without duplicating work.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (id int64, deduplicated bool, err error) {
	if opts.AvailableAt.IsZero() {
		opts.AvailableAt = time.Now().UTC()
	}

	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if opts.IdempotencyKey != "" {
			var existing int64
			lookupErr := tx.GetContext(ctx, &existing, `
				SELECT id FROM queue_jobs
				WHERE job_type = $1 AND idempotency_key = $2 AND state IN ('pending', 'leased')
				LIMIT 1`, jobType, opts.IdempotencyKey)
			if lookupErr == nil {
				id, deduplicated = existing, true
				return nil
			}
			if !errors.Is(lookupErr, sql.ErrNoRows) {
				return lookupErr
			}
		}

		var idemKey sql.NullString
		if opts.IdempotencyKey != "" {
			idemKey = sql.NullString{String: opts.IdempotencyKey, Valid: true}
		}
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO queue_jobs (job_type, payload, priority, state, attempts, available_at, idempotency_key)
			VALUES ($1, $2, $3, 'pending', 0, $4, $5)
			RETURNING id`, jobType, []byte(payload), opts.Priority, opts.AvailableAt, idemKey)
		return row.Scan(&id)
	})
	return id, deduplicated, err
}

// Lease atomically selects up to limit pending, due jobs of the given
// types in priority order, marks them leased under a freshly minted lease
// token each, and returns them. Uses SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent leasers never observe or claim the same row, and the
// per-job token lets a later reap-and-reissue be told apart from the
// original holder in Heartbeat/Commit/Fail.
func (s *Store) Lease(ctx context.Context, types []string, now time.Time, leaseDuration time.Duration, limit int) ([]Job, error) {
	if limit <= 0 || len(types) == 0 {
		return nil, nil
	}
	leaseUntil := now.Add(leaseDuration)

	var jobs []Job
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		query, args, buildErr := sqlx.In(`
			SELECT id FROM queue_jobs
			WHERE state = 'pending' AND available_at <= ? AND job_type IN (?)
			ORDER BY priority DESC, available_at ASC, id ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED`, now, types, limit)
		if buildErr != nil {
			return buildErr
		}
		query = tx.Rebind(query)

		var ids []int64
		if selErr := tx.SelectContext(ctx, &ids, query, args...); selErr != nil {
			return selErr
		}

		for _, id := range ids {
			token := uuid.NewString()
			var job Job
			if getErr := tx.GetContext(ctx, &job, `
				UPDATE queue_jobs
				SET state = 'leased', lease_until = $1, lease_token = $2, attempts = attempts + 1,
				    last_heartbeat = $3, updated_at = now()
				WHERE id = $4
				RETURNING id, job_type, payload, priority, state, attempts, available_at,
				          lease_until, lease_token, last_heartbeat, last_error, idempotency_key, created_at, updated_at`,
				leaseUntil, token, now, id); getErr != nil {
				return getErr
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Heartbeat extends a held lease. leaseToken must match the token minted
// by Lease for this job; a mismatch (lease lost to a reap and reissued to
// another caller, or already committed/failed) returns
// harmonyerr.CodeLeaseLost.
func (s *Store) Heartbeat(ctx context.Context, jobID int64, leaseToken string, leaseUntilNew time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs SET lease_until = $1, last_heartbeat = now(), updated_at = now()
		WHERE id = $2 AND state = 'leased' AND lease_token = $3`, leaseUntilNew, jobID, leaseToken)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, jobID)
}

// Commit transitions a leased job to succeeded. leaseToken must match the
// token minted by Lease for this job; a mismatch returns
// harmonyerr.CodeLeaseLost.
func (s *Store) Commit(ctx context.Context, jobID int64, leaseToken string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs SET state = 'succeeded', updated_at = now()
		WHERE id = $1 AND state = 'leased' AND lease_token = $2`, jobID, leaseToken)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, jobID)
}

// Fail records a handler failure. leaseToken must match the token minted
// by Lease for this job. If retryable and attempts < maxAttempts, the job
// is returned to pending at now+backoff; otherwise it transitions to dead
// and a DeadLetter row is inserted in the same transaction.
func (s *Store) Fail(ctx context.Context, jobID int64, leaseToken, errMsg string, retryable bool, maxAttempts int, backoff time.Duration) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var job Job
		if err := tx.GetContext(ctx, &job, `
			SELECT * FROM queue_jobs WHERE id = $1 AND state = 'leased' AND lease_token = $2 FOR UPDATE`,
			jobID, leaseToken); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return harmonyerr.New(harmonyerr.CodeLeaseLost, "lease no longer held").WithMeta("job_id", jobID)
			}
			return err
		}

		if retryable && job.Attempts < maxAttempts {
			availableAt := time.Now().UTC().Add(backoff)
			_, err := tx.ExecContext(ctx, `
				UPDATE queue_jobs
				SET state = 'pending', available_at = $1, last_error = $2, lease_until = NULL, lease_token = NULL, updated_at = now()
				WHERE id = $3`, availableAt, errMsg, jobID)
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_jobs SET state = 'dead', last_error = $1, updated_at = now() WHERE id = $2`,
			errMsg, jobID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letter (job_id, job_type, payload, reason, attempts)
			VALUES ($1, $2, $3, $4, $5)`, job.ID, job.Type, []byte(job.Payload), errMsg, job.Attempts)
		return err
	})
}

// Reap returns every job whose lease expired before now back to pending
// without incrementing attempts, and reports how many were reaped.
func (s *Store) Reap(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET state = 'pending', lease_until = NULL, lease_token = NULL, updated_at = now()
		WHERE state = 'leased' AND lease_until < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("orchestrator.lease.lost", obs.Int("count", int(n)))
	}
	return n, nil
}

// Depths returns the number of ready (pending, available now) jobs per
// job type, used by the queue-depth metrics sampler.
func (s *Store) Depths(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT job_type, count(*) FROM queue_jobs
		WHERE state = 'pending' AND available_at <= now()
		GROUP BY job_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var jobType string
		var n int
		if err := rows.Scan(&jobType, &n); err != nil {
			return nil, err
		}
		out[jobType] = n
	}
	return out, rows.Err()
}

func requireRowsAffected(res sql.Result, jobID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return harmonyerr.New(harmonyerr.CodeLeaseLost, "lease no longer held").WithMeta("job_id", jobID)
	}
	return nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
