// Copyright 2025 James Ross
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
)

type watchlistPayload struct {
	ArtistKey string `json:"artist_key"`
}

// Watchlist handles a watchlist tick: when the artist's retry budget is
// exhausted it cools the entry down instead of syncing;
// otherwise it enqueues the artist_sync job that does the real work.
func Watchlist(deps *Deps) dispatcher.HandlerFunc {
	return func(ctx context.Context, job queue.Job) (dispatcher.Outcome, error) {
		var payload watchlistPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return dispatcher.Permanent, fmt.Errorf("decode watchlist payload: %w", err)
		}

		var budget int
		err := deps.DB.GetContext(ctx, &budget,
			`SELECT retry_budget_remaining FROM watchlist_artists WHERE artist_key = $1`, payload.ArtistKey)
		if errors.Is(err, sql.ErrNoRows) {
			return dispatcher.Permanent, fmt.Errorf("unknown watchlist entry %q", payload.ArtistKey)
		}
		if err != nil {
			return dispatcher.Retryable, err
		}

		if budget <= 0 {
			cooldownUntil := now().Add(time.Duration(deps.Config.Watchlist.ArtistCooldownS) * time.Second)
			_, err := deps.DB.ExecContext(ctx, `
				UPDATE watchlist_artists
				SET cooldown_until = $1, retry_budget_remaining = $2
				WHERE artist_key = $3`, cooldownUntil, defaultRetryBudget, payload.ArtistKey)
			if err != nil {
				return dispatcher.Retryable, err
			}
			deps.Log.Info("watchlist.cooldown", obs.String("artist_key", payload.ArtistKey), obs.String("status", "skipped"))
			return dispatcher.Success, nil
		}

		idemKey := "artist_sync:" + payload.ArtistKey
		priority := deps.Config.Orchestrator.Priorities["artist_sync"]
		if _, _, err := deps.Store.Enqueue(ctx, "artist_sync", json.RawMessage(fmt.Sprintf(`{"artist_key":%q}`, payload.ArtistKey)), queue.EnqueueOptions{
			Priority:       priority,
			IdempotencyKey: idemKey,
		}); err != nil {
			return dispatcher.Retryable, err
		}

		if _, err := deps.DB.ExecContext(ctx, `
			UPDATE watchlist_artists SET last_synced_at = $1 WHERE artist_key = $2`, now(), payload.ArtistKey); err != nil {
			return dispatcher.Retryable, err
		}
		return dispatcher.Success, nil
	}
}
