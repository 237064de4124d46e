// Copyright 2025 James Ross
package queue

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// WithArtistLock runs fn while holding a transaction-scoped Postgres
// advisory lock keyed by hashtext(artistKey), guaranteeing at most one
// artist_sync executes per artist_key at a time. If the lock is already
// held by another session, ok is false and fn is not run.
func (s *Store) WithArtistLock(ctx context.Context, artistKey string, fn func(tx *sqlx.Tx) error) (ok bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := tx.GetContext(ctx, &acquired, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, artistKey); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if !acquired {
		_ = tx.Rollback()
		return false, nil
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return true, err
	}
	return true, tx.Commit()
}
