// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics covering orchestrator schedule/dispatch/commit/retry/dead,
// watchlist timer ticks, provider dependency calls, and cache
// hit/miss/evict.
var (
	OrchestratorScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_schedule_total",
		Help: "Total number of jobs picked up by the scheduler's poll loop",
	}, []string{"job_type"})
	OrchestratorDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_dispatch_total",
		Help: "Total number of jobs handed to a handler by the dispatcher",
	}, []string{"job_type"})
	OrchestratorCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_commit_total",
		Help: "Total number of jobs committed as successfully completed",
	}, []string{"job_type"})
	OrchestratorRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_retry_total",
		Help: "Total number of jobs scheduled for a retry attempt",
	}, []string{"job_type"})
	OrchestratorDead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_dead_total",
		Help: "Total number of jobs moved to the dead letter tier",
	}, []string{"job_type"})
	OrchestratorLeaseLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_lease_lost_total",
		Help: "Total number of heartbeats that discovered an expired lease",
	}, []string{"job_type"})
	OrchestratorJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_job_duration_seconds",
		Help:    "Histogram of handler execution durations by job type",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current number of ready jobs per job type",
	}, []string{"job_type"})

	WatchlistTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_timer_tick_total",
		Help: "Total number of watchlist timer ticks",
	})
	WatchlistEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_enqueued_total",
		Help: "Total number of watchlist jobs enqueued by the watchlist timer",
	})

	ProviderDependencyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_dependency_duration_seconds",
		Help:    "Histogram of outbound provider call durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "status"})
	ProviderDependencyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_dependency_total",
		Help: "Total number of outbound provider calls by outcome",
	}, []string{"provider", "operation", "status"})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hit_total",
		Help: "Total number of response cache hits",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_miss_total",
		Help: "Total number of response cache misses",
	})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_evict_total",
		Help: "Total number of response cache evictions",
	})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	}, []string{"provider"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times a provider's circuit breaker transitioned to Open",
	}, []string{"provider"})

	IngestItemsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_items_accepted_total",
		Help: "Total number of ingest items accepted after normalization and cap checks",
	})
	IngestItemsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_items_rejected_total",
		Help: "Total number of ingest items rejected, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		OrchestratorScheduled, OrchestratorDispatched, OrchestratorCommitted,
		OrchestratorRetried, OrchestratorDead, OrchestratorLeaseLost,
		OrchestratorJobDuration, QueueDepth,
		WatchlistTicks, WatchlistEnqueued,
		ProviderDependencyDuration, ProviderDependencyTotal,
		CacheHits, CacheMisses, CacheEvictions,
		CircuitBreakerState, CircuitBreakerTrips,
		IngestItemsAccepted, IngestItemsRejected,
	)
}

// StartMetricsServer exposes /metrics alone. Retained for callers that
// don't need the combined health/ready/metrics mux from StartHTTPServer.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
