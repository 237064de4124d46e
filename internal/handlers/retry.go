// Copyright 2025 James Ross
package handlers

import (
	"context"
	"encoding/json"

	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
)

type downloadRow struct {
	ID           int64  `db:"id"`
	PeerUsername string `db:"peer_username"`
	Filename     string `db:"filename"`
	RetryCount   int    `db:"retry_count"`
}

// Retry is a background reaper job that finds failed downloads eligible
// for another attempt and re-enqueues them as new `sync` jobs, bounded
// by the retry scan's batch limit.
func Retry(deps *Deps) dispatcher.HandlerFunc {
	return func(ctx context.Context, job queue.Job) (dispatcher.Outcome, error) {
		var rows []downloadRow
		err := deps.DB.SelectContext(ctx, &rows, `
			SELECT id, peer_username, filename, retry_count FROM downloads
			WHERE state = 'failed' AND next_retry_at <= now() AND retry_count < $1
			ORDER BY next_retry_at ASC
			LIMIT $2`, deps.Config.RetryScan.MaxAttempts, deps.Config.RetryScan.ScanBatchLimit)
		if err != nil {
			return dispatcher.Retryable, err
		}

		requeued := 0
		for _, row := range rows {
			payload, _ := json.Marshal(map[string]any{
				"peer_username": row.PeerUsername,
				"files":         []peer.FileRequest{{Filename: row.Filename}},
				"download_id":   row.ID,
			})
			if _, _, err := deps.Store.Enqueue(ctx, "sync", payload, queue.EnqueueOptions{
				Priority: deps.Config.Orchestrator.Priorities["sync"],
			}); err != nil {
				deps.Log.Warn("retry enqueue failed", obs.Err(err))
				continue
			}
			if _, err := deps.DB.ExecContext(ctx, `
				UPDATE downloads SET state = 'queued', retry_count = retry_count + 1, updated_at = now()
				WHERE id = $1`, row.ID); err != nil {
				deps.Log.Warn("retry state update failed", obs.Err(err))
				continue
			}
			requeued++
		}

		deps.Log.Info("retry.scan", obs.Int("candidates", len(rows)), obs.Int("requeued", requeued))
		return dispatcher.Success, nil
	}
}
