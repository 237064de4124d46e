// Copyright 2025 James Ross
// Package admin implements the queue introspection port: paginated
// listing of pending/leased/dead jobs, and bounded requeue/purge of
// dead-letter entries. It is the relational analogue of the teacher's
// Redis-backed Stats/Peek/PurgeDLQ admin surface.
package admin

import (
	"context"
	"fmt"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/jmoiron/sqlx"
)

// StatsResult summarizes queue depth per state and job type.
type StatsResult struct {
	ByState map[string]int64 `json:"by_state"`
	ByType  map[string]int64 `json:"by_type"`
}

// Stats returns job counts grouped by state and by job type.
func Stats(ctx context.Context, db *sqlx.DB) (StatsResult, error) {
	res := StatsResult{ByState: map[string]int64{}, ByType: map[string]int64{}}

	stateRows, err := db.QueryxContext(ctx, `SELECT state, count(*) FROM queue_jobs GROUP BY state`)
	if err != nil {
		return res, err
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var state string
		var n int64
		if err := stateRows.Scan(&state, &n); err != nil {
			return res, err
		}
		res.ByState[state] = n
	}
	if err := stateRows.Err(); err != nil {
		return res, err
	}

	typeRows, err := db.QueryxContext(ctx, `SELECT job_type, count(*) FROM queue_jobs GROUP BY job_type`)
	if err != nil {
		return res, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var jobType string
		var n int64
		if err := typeRows.Scan(&jobType, &n); err != nil {
			return res, err
		}
		res.ByType[jobType] = n
	}
	return res, typeRows.Err()
}

// Page is a generic paginated result.
type Page[T any] struct {
	Items      []T  `json:"items"`
	NextOffset int  `json:"next_offset"`
	HasMore    bool `json:"has_more"`
}

// JobSummary is the introspection-facing projection of a queue_jobs row.
type JobSummary struct {
	ID          int64  `db:"id" json:"id"`
	Type        string `db:"job_type" json:"type"`
	State       string `db:"state" json:"state"`
	Priority    int    `db:"priority" json:"priority"`
	Attempts    int    `db:"attempts" json:"attempts"`
	LastError   string `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

// ListJobs returns a page of jobs in the given state (pending, leased,
// dead, succeeded or failed), ordered oldest-first, clamped to
// DLQ.PageSizeMax.
func ListJobs(ctx context.Context, db *sqlx.DB, cfg config.DLQ, state string, offset, pageSize int) (Page[JobSummary], error) {
	if state != "pending" && state != "leased" && state != "dead" && state != "succeeded" && state != "failed" {
		return Page[JobSummary]{}, fmt.Errorf("unknown job state %q", state)
	}
	pageSize = clampPageSize(cfg, pageSize)

	var jobs []JobSummary
	err := db.SelectContext(ctx, &jobs, `
		SELECT id, job_type, state, priority, attempts, coalesce(last_error, '') AS last_error, created_at::text
		FROM queue_jobs
		WHERE state = $1
		ORDER BY id ASC
		OFFSET $2 LIMIT $3`, state, offset, pageSize+1)
	if err != nil {
		return Page[JobSummary]{}, err
	}

	hasMore := len(jobs) > pageSize
	if hasMore {
		jobs = jobs[:pageSize]
	}
	return Page[JobSummary]{Items: jobs, NextOffset: offset + len(jobs), HasMore: hasMore}, nil
}

// DeadLetterEntry is the introspection-facing projection of a
// dead_letter row.
type DeadLetterEntry struct {
	ID       int64  `db:"id" json:"id"`
	JobID    int64  `db:"job_id" json:"job_id"`
	Type     string `db:"job_type" json:"type"`
	Reason   string `db:"reason" json:"reason"`
	Attempts int    `db:"attempts" json:"attempts"`
	FailedAt string `db:"failed_at" json:"failed_at"`
}

// ListDeadLetters returns a page of dead-letter entries, newest first.
func ListDeadLetters(ctx context.Context, db *sqlx.DB, cfg config.DLQ, offset, pageSize int) (Page[DeadLetterEntry], error) {
	pageSize = clampPageSize(cfg, pageSize)

	var entries []DeadLetterEntry
	err := db.SelectContext(ctx, &entries, `
		SELECT id, job_id, job_type, reason, attempts, failed_at::text
		FROM dead_letter
		ORDER BY failed_at DESC
		OFFSET $1 LIMIT $2`, offset, pageSize+1)
	if err != nil {
		return Page[DeadLetterEntry]{}, err
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	return Page[DeadLetterEntry]{Items: entries, NextOffset: offset + len(entries), HasMore: hasMore}, nil
}

// RequeueDeadLetters moves up to DLQ.RequeueLimit dead-letter entries
// (oldest-failed-first) back onto the queue as fresh pending jobs,
// resetting attempts to zero, and removes the consumed dead_letter rows.
func RequeueDeadLetters(ctx context.Context, db *sqlx.DB, cfg config.DLQ) (int64, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var ids []int64
	if err := tx.SelectContext(ctx, &ids, `
		SELECT id FROM dead_letter ORDER BY failed_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`, cfg.RequeueLimit); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	query, args, err := sqlx.In(`
		INSERT INTO queue_jobs (job_type, payload, priority, state, attempts, available_at)
		SELECT job_type, payload, 0, 'pending', 0, now() FROM dead_letter WHERE id IN (?)`, ids)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	delQuery, delArgs, err := sqlx.In(`DELETE FROM dead_letter WHERE id IN (?)`, ids)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	delQuery = tx.Rebind(delQuery)
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	return int64(len(ids)), tx.Commit()
}

// PurgeDeadLetters deletes up to DLQ.PurgeLimit dead-letter rows,
// oldest-failed-first, without requeuing them.
func PurgeDeadLetters(ctx context.Context, db *sqlx.DB, cfg config.DLQ) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM dead_letter WHERE id IN (
			SELECT id FROM dead_letter ORDER BY failed_at ASC LIMIT $1
		)`, cfg.PurgeLimit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func clampPageSize(cfg config.DLQ, requested int) int {
	if requested <= 0 {
		requested = cfg.PageSizeDefault
	}
	if requested > cfg.PageSizeMax {
		requested = cfg.PageSizeMax
	}
	return requested
}
