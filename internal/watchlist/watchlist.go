// Copyright 2025 James Ross
// Package watchlist implements the Watchlist Timer (C7): on an interval,
// enqueues watchlist jobs for entries past cooldown, collapsing duplicate
// enqueues of the same artist within one interval via idempotency key.
package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Entry mirrors the subset of watchlist_artists needed to decide whether
// a tick should enqueue a job for it.
type Entry struct {
	ArtistKey      string `db:"artist_key"`
	Priority       int    `db:"priority"`
}

// Timer is the Watchlist Timer. It owns no table writes beyond
// last_enqueued_at; enqueue itself goes through the Queue Store.
type Timer struct {
	db       *sqlx.DB
	store    *queue.Store
	log      *zap.Logger
	interval time.Duration
	maxPerTick int
	running  atomic.Bool
}

func New(db *sqlx.DB, store *queue.Store, interval time.Duration, maxPerTick int, log *zap.Logger) *Timer {
	return &Timer{db: db, store: store, interval: interval, maxPerTick: maxPerTick, log: log}
}

// Run ticks until ctx is cancelled. If the previous tick is still
// running, the new tick is skipped and logged with status=skipped,
// reason=busy.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Timer) tick(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		t.log.Info("orchestrator.timer.tick", obs.String("status", "skipped"), obs.String("reason", "busy"))
		return
	}
	defer t.running.Store(false)

	now := time.Now().UTC()

	var entries []Entry
	err := t.db.SelectContext(ctx, &entries, `
		SELECT artist_key, priority FROM watchlist_artists
		WHERE paused = false
		  AND (resume_at IS NULL OR resume_at <= $1)
		  AND (cooldown_until IS NULL OR cooldown_until <= $1)
		ORDER BY priority DESC, last_enqueued_at ASC NULLS FIRST
		LIMIT $2`, now, t.maxPerTick)
	if err != nil {
		t.log.Warn("watchlist select error", obs.Err(err))
		return
	}

	considered := len(entries)
	enqueued := 0
	skipped := 0

	intervalBucket := now.Unix() / int64(t.interval.Seconds())
	for _, entry := range entries {
		payload, _ := json.Marshal(map[string]string{"artist_key": entry.ArtistKey})
		idemKey := fmt.Sprintf("watchlist:%s:%d", entry.ArtistKey, intervalBucket)

		_, dedup, err := t.store.Enqueue(ctx, "watchlist", payload, queue.EnqueueOptions{
			Priority:       entry.Priority,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			t.log.Warn("watchlist enqueue error", obs.String("artist_key", entry.ArtistKey), obs.Err(err))
			skipped++
			continue
		}
		if dedup {
			skipped++
			continue
		}
		enqueued++
		obs.WatchlistEnqueued.Inc()

		if _, err := t.db.ExecContext(ctx, `
			UPDATE watchlist_artists SET last_enqueued_at = $1 WHERE artist_key = $2`,
			now, entry.ArtistKey); err != nil {
			t.log.Warn("watchlist last_enqueued_at update failed", obs.Err(err))
		}
	}

	obs.WatchlistTicks.Inc()
	t.log.Info("orchestrator.timer.tick",
		obs.Int("considered", considered),
		obs.Int("enqueued", enqueued),
		obs.Int("skipped", skipped),
	)
}
