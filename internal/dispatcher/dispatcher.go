// Copyright 2025 James Ross
// Package dispatcher implements the Dispatcher (C6): enforces global and
// per-pool concurrency, runs handlers as cancellable cooperative tasks,
// emits heartbeats at half the lease duration, and translates handler
// outcomes into queue state transitions.
package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/bozzfozz/harmony-sub001/internal/retrypolicy"
	"go.uber.org/zap"
)

// Outcome is a handler's classification of its own result.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Permanent
)

// HandlerFunc is the typed business logic signature every job type
// registers in the dispatcher's handler registry.
type HandlerFunc func(ctx context.Context, job queue.Job) (Outcome, error)

// Dispatcher owns the global + per-pool concurrency semaphores and the
// handler registry.
type Dispatcher struct {
	store    *queue.Store
	policies *retrypolicy.Provider
	log      *zap.Logger

	globalSem chan struct{}
	poolSems  map[string]chan struct{}
	heartbeat time.Duration

	handlers map[string]HandlerFunc

	wg sync.WaitGroup
}

// New builds a Dispatcher from orchestrator configuration.
func New(store *queue.Store, policies *retrypolicy.Provider, cfg config.Orchestrator, log *zap.Logger) *Dispatcher {
	pools := make(map[string]chan struct{}, len(cfg.PoolSizes))
	for jobType, size := range cfg.PoolSizes {
		if size <= 0 {
			size = 1
		}
		pools[jobType] = make(chan struct{}, size)
	}
	return &Dispatcher{
		store:     store,
		policies:  policies,
		log:       log,
		globalSem: make(chan struct{}, cfg.GlobalConcurrency),
		poolSems:  pools,
		heartbeat: time.Duration(cfg.HeartbeatS) * time.Second,
		handlers:  map[string]HandlerFunc{},
	}
}

// Register binds a job type to its handler.
func (d *Dispatcher) Register(jobType string, fn HandlerFunc) {
	d.handlers[jobType] = fn
}

// TryDispatch attempts to hand job to its registered handler. It returns
// false without blocking if the type's pool is saturated, so the
// scheduler can defer it rather than retry.
func (d *Dispatcher) TryDispatch(ctx context.Context, job queue.Job, leaseDuration time.Duration) bool {
	select {
	case d.globalSem <- struct{}{}:
	default:
		return false
	}

	pool, ok := d.poolSems[job.Type]
	if !ok {
		pool = make(chan struct{}, 1)
		d.poolSems[job.Type] = pool
	}
	select {
	case pool <- struct{}{}:
	default:
		<-d.globalSem
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-pool; <-d.globalSem }()
		d.run(ctx, job, leaseDuration)
	}()
	return true
}

func (d *Dispatcher) run(ctx context.Context, job queue.Job, leaseDuration time.Duration) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	taskCtx, span := obs.ContextWithJobSpan(taskCtx, strconv.FormatInt(job.ID, 10), job.Type, job.Attempts)
	defer span.End()

	obs.OrchestratorDispatched.WithLabelValues(job.Type).Inc()
	d.log.Info("orchestrator.dispatch", obs.String("job_type", job.Type), zap.Int64("job_id", job.ID), obs.Int("attempt", job.Attempts))

	policy := d.policies.Get(job.Type)
	if policy.TimeoutSeconds > 0 {
		var timeoutCancel context.CancelFunc
		taskCtx, timeoutCancel = context.WithTimeout(taskCtx, time.Duration(policy.TimeoutSeconds*float64(time.Second)))
		defer timeoutCancel()
	}

	hbInterval := d.heartbeat
	if leaseDuration > 0 {
		hbInterval = leaseDuration / 2
	}
	hbDone := make(chan struct{})
	go d.runHeartbeat(taskCtx, job, leaseDuration, hbInterval, cancel, hbDone)
	defer close(hbDone)

	handler, ok := d.handlers[job.Type]
	if !ok {
		d.fail(ctx, job, "no handler registered for job type", false, policy)
		return
	}

	start := time.Now()
	outcome, err := handler(taskCtx, job)
	obs.OrchestratorJobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	switch outcome {
	case Success:
		if commitErr := d.store.Commit(ctx, job.ID, job.LeaseToken.String); commitErr != nil {
			d.log.Warn("commit failed", obs.Err(commitErr))
			return
		}
		obs.OrchestratorCommitted.WithLabelValues(job.Type).Inc()
		d.log.Info("orchestrator.commit", zap.Int64("job_id", job.ID), obs.String("job_type", job.Type))
	case Retryable:
		d.fail(ctx, job, errString(err), true, policy)
	case Permanent:
		d.fail(ctx, job, errString(err), false, policy)
	}
}

func (d *Dispatcher) fail(ctx context.Context, job queue.Job, reason string, retryable bool, policy retrypolicy.RetryPolicy) {
	backoff := retrypolicy.Backoff(policy, job.Attempts)
	if err := d.store.Fail(ctx, job.ID, job.LeaseToken.String, reason, retryable, policy.MaxAttempts, backoff); err != nil {
		d.log.Warn("fail transition failed", obs.Err(err))
		return
	}
	if retryable && job.Attempts < policy.MaxAttempts {
		obs.OrchestratorRetried.WithLabelValues(job.Type).Inc()
		d.log.Info("orchestrator.retry", zap.Int64("job_id", job.ID), obs.String("job_type", job.Type), zap.Int64("backoff_ms", backoff.Milliseconds()))
		return
	}
	obs.OrchestratorDead.WithLabelValues(job.Type).Inc()
	d.log.Warn("orchestrator.dead", zap.Int64("job_id", job.ID), obs.String("job_type", job.Type), obs.String("reason", reason))
}

func (d *Dispatcher) runHeartbeat(ctx context.Context, job queue.Job, leaseDuration, interval time.Duration, cancel context.CancelFunc, done <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			newLeaseUntil := time.Now().Add(leaseDuration)
			if err := d.store.Heartbeat(context.Background(), job.ID, job.LeaseToken.String, newLeaseUntil); err != nil {
				obs.OrchestratorLeaseLost.WithLabelValues(job.Type).Inc()
				d.log.Warn("orchestrator.lease.lost", zap.Int64("job_id", job.ID), obs.Err(err))
				cancel()
				return
			}
		}
	}
}

// Shutdown waits up to grace for in-flight handlers to finish, then
// returns; any still-running tasks are left for the queue store's
// reaper to recover their leases.
func (d *Dispatcher) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
