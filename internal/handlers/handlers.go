// Copyright 2025 James Ross
// Package handlers implements the typed job handlers (C8): watchlist,
// artist_sync, matching, sync (download), and retry. Each conforms to
// dispatcher.HandlerFunc and is idempotent under at-least-once execution.
package handlers

import (
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/cache"
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/metadata"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// defaultRetryBudget matches watchlist_artists.retry_budget_remaining's
// schema default; a budget exhaustion resets to this value.
const defaultRetryBudget = 3

// Deps is the shared set of collaborators every handler needs. A single
// Deps is built once in cmd/harmonyd and closed over by each handler
// constructor.
type Deps struct {
	DB       *sqlx.DB
	Store    *queue.Store
	Metadata *metadata.Provider
	Peer     *peer.Provider
	Cache    *cache.Cache
	Config   *config.Config
	Log      *zap.Logger
}

// Register binds every handler in this package to d under its job type
// name.
func Register(d *dispatcher.Dispatcher, deps *Deps) {
	d.Register("watchlist", Watchlist(deps))
	d.Register("artist_sync", ArtistSync(deps))
	d.Register("matching", Matching(deps))
	d.Register("sync", Sync(deps))
	d.Register("retry", Retry(deps))
}

func now() time.Time { return time.Now().UTC() }
