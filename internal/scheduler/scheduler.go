// Copyright 2025 James Ross
// Package scheduler implements the Scheduler (C5): a single cooperative
// polling loop leasing due jobs from the Queue Store by weighted priority
// under adaptive poll backoff.
package scheduler

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"go.uber.org/zap"
)

// Scheduler leases jobs in priority order and hands them to the
// Dispatcher.
type Scheduler struct {
	store      *queue.Store
	dispatcher *dispatcher.Dispatcher
	log        *zap.Logger

	jobTypes     []string
	pollMinMS    int
	pollMaxMS    int
	visibilityS  int
	globalCap    int
}

func New(store *queue.Store, d *dispatcher.Dispatcher, cfg config.Orchestrator, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		dispatcher:  d,
		log:         log,
		jobTypes:    cfg.JobTypes,
		pollMinMS:   cfg.PollIntervalMS,
		pollMaxMS:   cfg.PollIntervalMaxMS,
		visibilityS: cfg.VisibilityTimeoutS,
		globalCap:   cfg.GlobalConcurrency,
	}
}

// Run executes the cooperative poll loop until ctx is cancelled. On
// shutdown it stops leasing; outstanding leases are left for the queue
// store's reap to restore.
func (s *Scheduler) Run(ctx context.Context) {
	currentPollMS := s.pollMinMS

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(currentPollMS) * time.Millisecond):
		}

		leaseCtx, span := obs.StartLeaseSpan(ctx, "*")
		jobs, err := s.store.Lease(leaseCtx, s.jobTypes, time.Now().UTC(),
			time.Duration(s.visibilityS)*time.Second, s.globalCap)
		span.End()
		if err != nil {
			s.log.Warn("lease error", obs.Err(err))
			currentPollMS = growPoll(currentPollMS, s.pollMaxMS)
			continue
		}

		if len(jobs) == 0 {
			currentPollMS = growPoll(currentPollMS, s.pollMaxMS)
			continue
		}

		for _, job := range jobs {
			s.log.Debug("orchestrator.schedule", obs.String("job_type", job.Type), zap.Int64("job_id", job.ID))
			obs.OrchestratorScheduled.WithLabelValues(job.Type).Inc()
			if !s.dispatcher.TryDispatch(ctx, job, time.Duration(s.visibilityS)*time.Second) {
				// Pool saturated: the job stays leased and nothing heartbeats
				// it; once its lease expires the reaper restores it to
				// pending, and a later poll leases it again.
				s.log.Debug("dispatch deferred, pool saturated", obs.String("job_type", job.Type))
			}
		}
		currentPollMS = s.pollMinMS
		if currentPollMS < 10 {
			currentPollMS = 10
		}
	}
}

func growPoll(current, max int) int {
	next := current * 2
	if next > max {
		return max
	}
	if next < 10 {
		return 10
	}
	return next
}
