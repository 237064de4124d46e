// Copyright 2025 James Ross
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bozzfozz/harmony-sub001/internal/artistdelta"
	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/metadata"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/jmoiron/sqlx"
)

type artistSyncPayload struct {
	ArtistKey string `json:"artist_key"`
	Force     bool   `json:"force,omitempty"`
}

// syncPolicy is the Artist Delta Engine policy applied by every
// artist_sync run: prune releases the provider no longer lists, but
// never hard-delete them.
var syncPolicy = artistdelta.Policy{Prune: true, HardDelete: false}

// ArtistSync fetches current and incoming artist/release state, diffs
// them via the Artist Delta Engine, and applies every operation plus its
// audit row in one transaction held under a per-artist advisory lock.
func ArtistSync(deps *Deps) dispatcher.HandlerFunc {
	return func(ctx context.Context, job queue.Job) (dispatcher.Outcome, error) {
		var payload artistSyncPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return dispatcher.Permanent, fmt.Errorf("decode artist_sync payload: %w", err)
		}

		source, sourceID, err := splitArtistKey(payload.ArtistKey)
		if err != nil {
			return dispatcher.Permanent, err
		}

		incomingArtist, incomingReleases, err := fetchIncoming(ctx, deps.Metadata, source, sourceID)
		if err != nil {
			var classified *gateway.ClassifiedError
			if errors.As(err, &classified) && classified.Class == gateway.ClassPermanent {
				return dispatcher.Permanent, err
			}
			return dispatcher.Retryable, err
		}
		incomingArtist.Key = payload.ArtistKey

		var outcome dispatcher.Outcome
		var runErr error
		acquired, lockErr := deps.Store.WithArtistLock(ctx, payload.ArtistKey, func(tx *sqlx.Tx) error {
			outcome, runErr = applyArtistSync(ctx, tx, deps, job, payload.ArtistKey, incomingArtist, incomingReleases)
			return runErr
		})
		if lockErr != nil {
			return dispatcher.Retryable, lockErr
		}
		if !acquired {
			return dispatcher.Retryable, fmt.Errorf("artist_sync lock held for %s", payload.ArtistKey)
		}

		deps.Cache.InvalidatePrefix("/artists/" + payload.ArtistKey)
		return outcome, runErr
	}
}

func splitArtistKey(key string) (source, sourceID string, err error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed artist key %q", key)
	}
	return parts[0], parts[1], nil
}

func fetchIncoming(ctx context.Context, m *metadata.Provider, source, sourceID string) (artistdelta.Artist, []artistdelta.Release, error) {
	artist, err := m.GetArtist(ctx, sourceID)
	if err != nil {
		return artistdelta.Artist{}, nil, err
	}
	albums, err := m.GetArtistAlbums(ctx, sourceID)
	if err != nil {
		return artistdelta.Artist{}, nil, err
	}

	releases := make([]artistdelta.Release, 0, len(albums))
	for _, a := range albums {
		releases = append(releases, artistdelta.Release{
			ID:          a.ID,
			Title:       a.Title,
			ReleaseType: a.ReleaseType,
			ReleaseDate: a.ReleaseDate,
			TrackCount:  a.TrackCount,
			Source:      source,
			SourceID:    a.ID,
		})
	}
	return artistdelta.Artist{Name: artist.Name, ExternalIDs: artist.ExternalIDs}, releases, nil
}

func applyArtistSync(ctx context.Context, tx *sqlx.Tx, deps *Deps, job queue.Job, artistKey string, incomingArtist artistdelta.Artist, incomingReleases []artistdelta.Release) (dispatcher.Outcome, error) {
	currentArtist, currentReleases, err := loadCurrent(ctx, tx, artistKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return dispatcher.Retryable, err
	}

	diff := artistdelta.Diffed(currentArtist, currentReleases, incomingArtist, incomingReleases, syncPolicy)

	if diff.ArtistOp != nil {
		extIDs, _ := json.Marshal(diff.ArtistAfter.ExternalIDs)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artists (key, name, source, external_ids, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (key) DO UPDATE SET name = $2, external_ids = $4, updated_at = now()`,
			artistKey, diff.ArtistAfter.Name, strings.SplitN(artistKey, ":", 2)[0], extIDs); err != nil {
			return dispatcher.Retryable, err
		}
	} else {
		extIDs, _ := json.Marshal(incomingArtist.ExternalIDs)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artists (key, name, source, external_ids, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (key) DO NOTHING`,
			artistKey, incomingArtist.Name, strings.SplitN(artistKey, ":", 2)[0], extIDs); err != nil {
			return dispatcher.Retryable, err
		}
	}

	for _, op := range diff.ReleaseOps {
		if err := applyReleaseOp(ctx, tx, artistKey, op); err != nil {
			return dispatcher.Retryable, err
		}
	}

	for _, audit := range diff.Audits {
		before, _ := json.Marshal(audit.Before)
		after, _ := json.Marshal(audit.After)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artist_audit (artist_key, job_id, event, entity_type, before, after)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			artistKey, job.ID, audit.Event, audit.EntityType, before, after); err != nil {
			return dispatcher.Retryable, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE watchlist_artists SET last_synced_at = now() WHERE artist_key = $1`, artistKey); err != nil {
		return dispatcher.Retryable, err
	}

	deps.Log.Info("artist_sync.applied", obs.String("artist_key", artistKey), obs.Int("release_ops", len(diff.ReleaseOps)), obs.Int("audits", len(diff.Audits)))
	return dispatcher.Success, nil
}

func applyReleaseOp(ctx context.Context, tx *sqlx.Tx, artistKey string, op artistdelta.ReleaseOp) error {
	r := op.Release
	switch op.Kind {
	case artistdelta.OpCreateRelease:
		id := r.ID
		if id == "" {
			id = artistKey + ":" + r.SourceID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO releases (id, artist_key, title, release_type, track_count, source, source_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO NOTHING`,
			id, artistKey, r.Title, r.ReleaseType, r.TrackCount, r.Source, r.SourceID)
		return err
	case artistdelta.OpUpdateRelease:
		_, err := tx.ExecContext(ctx, `
			UPDATE releases SET title = $1, release_type = $2, track_count = $3, updated_at = now()
			WHERE artist_key = $4 AND source = $5 AND source_id = $6`,
			r.Title, r.ReleaseType, r.TrackCount, artistKey, r.Source, r.SourceID)
		return err
	case artistdelta.OpSoftDeleteRelease:
		_, err := tx.ExecContext(ctx, `
			UPDATE releases SET inactive_at = now(), inactive_reason = 'pruned', updated_at = now()
			WHERE artist_key = $1 AND source = $2 AND source_id = $3`,
			artistKey, r.Source, r.SourceID)
		return err
	case artistdelta.OpHardDeleteRelease:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM releases WHERE artist_key = $1 AND source = $2 AND source_id = $3`,
			artistKey, r.Source, r.SourceID)
		return err
	}
	return nil
}

func loadCurrent(ctx context.Context, tx *sqlx.Tx, artistKey string) (artistdelta.Artist, []artistdelta.Release, error) {
	var row struct {
		Name        string `db:"name"`
		ExternalIDs []byte `db:"external_ids"`
	}
	err := tx.GetContext(ctx, &row, `SELECT name, external_ids FROM artists WHERE key = $1`, artistKey)
	if errors.Is(err, sql.ErrNoRows) {
		return artistdelta.Artist{Key: artistKey}, nil, nil
	}
	if err != nil {
		return artistdelta.Artist{}, nil, err
	}
	var extIDs map[string]string
	_ = json.Unmarshal(row.ExternalIDs, &extIDs)

	var releaseRows []struct {
		Title       string         `db:"title"`
		ReleaseType string         `db:"release_type"`
		TrackCount  sql.NullInt64  `db:"track_count"`
		Source      sql.NullString `db:"source"`
		SourceID    sql.NullString `db:"source_id"`
	}
	if err := tx.SelectContext(ctx, &releaseRows, `
		SELECT title, release_type, track_count, source, source_id FROM releases
		WHERE artist_key = $1 AND inactive_at IS NULL`, artistKey); err != nil {
		return artistdelta.Artist{}, nil, err
	}

	releases := make([]artistdelta.Release, 0, len(releaseRows))
	for _, r := range releaseRows {
		releases = append(releases, artistdelta.Release{
			Title:       r.Title,
			ReleaseType: r.ReleaseType,
			TrackCount:  int(r.TrackCount.Int64),
			Source:      r.Source.String,
			SourceID:    r.SourceID.String,
		})
	}
	return artistdelta.Artist{Key: artistKey, Name: row.Name, ExternalIDs: extIDs}, releases, nil
}
