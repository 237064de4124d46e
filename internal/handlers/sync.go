// Copyright 2025 James Ross
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
)

type syncPayload struct {
	PeerUsername string             `json:"peer_username"`
	Files        []peer.FileRequest `json:"files"`
	// DownloadID, when set, names the existing downloads row this job is
	// retrying. recordDownload updates that row in place instead of
	// inserting a fresh one, so retry.go's bumped retry_count survives.
	DownloadID int64 `json:"download_id,omitempty"`
}

const (
	pollInitialInterval = 500 * time.Millisecond
	pollMaxInterval     = 10 * time.Second
	pollMaxAttempts     = 20
)

// Sync hands the file set to the peer daemon, polls for completion with
// adaptive backoff, and persists per-file state into the downloads
// table. Partial success (at least one completed file) is reported as
// success.
func Sync(deps *Deps) dispatcher.HandlerFunc {
	return func(ctx context.Context, job queue.Job) (dispatcher.Outcome, error) {
		var payload syncPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return dispatcher.Permanent, fmt.Errorf("decode sync payload: %w", err)
		}
		if payload.PeerUsername == "" || len(payload.Files) == 0 {
			return dispatcher.Permanent, fmt.Errorf("sync payload requires peer_username and at least one file")
		}

		ticket, err := deps.Peer.EnqueueDownload(ctx, payload.PeerUsername, payload.Files)
		if err != nil {
			return dispatcher.Retryable, err
		}

		sem := make(chan struct{}, deps.Config.SyncWorker.Concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		completed := 0

		for _, f := range payload.Files {
			wg.Add(1)
			sem <- struct{}{}
			go func(f peer.FileRequest) {
				defer wg.Done()
				defer func() { <-sem }()
				state, lastErr := pollUntilDone(ctx, deps.Peer, ticket, f.Filename)
				mu.Lock()
				defer mu.Unlock()
				if state == peer.FileCompleted {
					completed++
				}
				if err := recordDownload(ctx, deps, payload.DownloadID, ticket.ID, payload.PeerUsername, f.Filename, state, lastErr); err != nil {
					deps.Log.Warn("download state persist failed", obs.Err(err))
				}
			}(f)
		}
		wg.Wait()

		deps.Log.Info("sync.batch", obs.String("ticket_id", ticket.ID), obs.Int("total", len(payload.Files)), obs.Int("completed", completed))

		if completed > 0 {
			return dispatcher.Success, nil
		}
		return dispatcher.Retryable, fmt.Errorf("no files completed for ticket %s", ticket.ID)
	}
}

func pollUntilDone(ctx context.Context, p *peer.Provider, ticket peer.DownloadTicket, filename string) (peer.FileState, error) {
	interval := pollInitialInterval
	for attempt := 0; attempt < pollMaxAttempts; attempt++ {
		status, err := p.PollDownload(ctx, ticket)
		if err != nil {
			return peer.FileFailed, err
		}
		state, ok := status.Files[filename]
		if ok && (state == peer.FileCompleted || state == peer.FileFailed) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return peer.FileFailed, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
	return peer.FileFailed, fmt.Errorf("timed out waiting for %s", filename)
}

// recordDownload persists a file's terminal poll state. When downloadID
// is nonzero this is a retry of an existing downloads row: the row is
// updated in place so its retry_count (bumped by the retry scan before
// re-enqueueing) isn't reset by a fresh insert. A zero downloadID means
// this is the file's first attempt, so a new row is inserted.
func recordDownload(ctx context.Context, deps *Deps, downloadID int64, ticketID, username, filename string, state peer.FileState, pollErr error) error {
	var lastError string
	var nextRetry any
	if pollErr != nil {
		lastError = pollErr.Error()
	}
	if state == peer.FileFailed {
		nextRetry = now().Add(time.Duration(deps.Config.RetryScan.MaxAttempts) * time.Minute)
	}

	if downloadID != 0 {
		_, err := deps.DB.ExecContext(ctx, `
			UPDATE downloads
			SET ticket_id = $1, peer_username = $2, filename = $3, state = $4,
			    last_error = $5, next_retry_at = $6, updated_at = now()
			WHERE id = $7`,
			ticketID, username, filename, string(state), nullIfEmpty(lastError), nextRetry, downloadID)
		return err
	}

	_, err := deps.DB.ExecContext(ctx, `
		INSERT INTO downloads (ticket_id, peer_username, filename, state, last_error, next_retry_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		ticketID, username, filename, string(state), nullIfEmpty(lastError), nextRetry)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
