// Copyright 2025 James Ross
package store

import (
	"database/sql"
	"time"
)

// Artist mirrors the `artists` table — identity is the stable
// "<source>:<source_id>" key shared across queue, audit, and cache.
type Artist struct {
	Key             string            `db:"key"`
	Name            string            `db:"name"`
	Source          string            `db:"source"`
	ExternalIDs     JSONMap           `db:"external_ids"`
	EtagFingerprint sql.NullString    `db:"etag_fingerprint"`
	UpdatedAt       time.Time         `db:"updated_at"`
}

// Release mirrors the `releases` table. Soft-delete is via InactiveAt.
type Release struct {
	ID             string         `db:"id"`
	ArtistKey      string         `db:"artist_key"`
	Title          string         `db:"title"`
	ReleaseType    string         `db:"release_type"`
	ReleaseDate    sql.NullTime   `db:"release_date"`
	TrackCount     sql.NullInt64  `db:"track_count"`
	InactiveAt     sql.NullTime   `db:"inactive_at"`
	InactiveReason sql.NullString `db:"inactive_reason"`
	Source         sql.NullString `db:"source"`
	SourceID       sql.NullString `db:"source_id"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// AuditEvent mirrors the append-only `artist_audit` table.
type AuditEvent struct {
	ID         int64         `db:"id"`
	ArtistKey  string        `db:"artist_key"`
	JobID      sql.NullInt64 `db:"job_id"`
	Event      string        `db:"event"`
	EntityType string        `db:"entity_type"`
	Before     JSONMap       `db:"before"`
	After      JSONMap       `db:"after"`
	At         time.Time     `db:"at"`
}

// WatchlistEntry mirrors the `watchlist_artists` table.
type WatchlistEntry struct {
	ArtistKey             string         `db:"artist_key"`
	Priority              int            `db:"priority"`
	Paused                bool           `db:"paused"`
	PauseReason           sql.NullString `db:"pause_reason"`
	ResumeAt              sql.NullTime   `db:"resume_at"`
	LastEnqueuedAt        sql.NullTime   `db:"last_enqueued_at"`
	LastSyncedAt          sql.NullTime   `db:"last_synced_at"`
	CooldownUntil         sql.NullTime   `db:"cooldown_until"`
	RetryBudgetRemaining  int            `db:"retry_budget_remaining"`
	CreatedAt             time.Time      `db:"created_at"`
}

// IngestJob mirrors the `ingest_jobs` table.
type IngestJob struct {
	ID         string    `db:"id"`
	SourceMode string    `db:"source_mode"`
	State      string    `db:"state"`
	Counts     JSONMap   `db:"counts"`
	CreatedAt  time.Time `db:"created_at"`
}

// IngestItem mirrors the `ingest_items` table.
type IngestItem struct {
	ID             string         `db:"id"`
	IngestJobID    string         `db:"ingest_job_id"`
	SourceType     string         `db:"source_type"`
	Raw            string         `db:"raw"`
	Normalized     JSONMap        `db:"normalized"`
	State          string         `db:"state"`
	SkipReason     sql.NullString `db:"skip_reason"`
	DownloadJobID  sql.NullInt64  `db:"download_job_id"`
}
