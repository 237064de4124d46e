// Copyright 2025 James Ross
// Package reaper periodically restores jobs whose lease expired without
// a heartbeat back to pending, the relational analogue of the teacher's
// processing-list sweep.
package reaper

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"go.uber.org/zap"
)

type Reaper struct {
	store    *queue.Store
	log      *zap.Logger
	interval time.Duration
}

func New(store *queue.Store, interval time.Duration, log *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reaper{store: store, interval: interval, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Reaper) scanOnce(ctx context.Context) {
	n, err := r.store.Reap(ctx, time.Now().UTC())
	if err != nil {
		r.log.Warn("reaper scan error", obs.Err(err))
		return
	}
	if n > 0 {
		r.log.Warn("restored abandoned leases", obs.Int("count", int(n)))
	}
}
