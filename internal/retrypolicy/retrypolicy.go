// Copyright 2025 James Ross
// Package retrypolicy implements the Retry Policy Provider (C2): a
// TTL-cached, copy-on-reload snapshot of per-job-type retry parameters,
// resolved from configuration.
package retrypolicy

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/config"
)

// BackoffCeiling is the fixed 5-minute retry delay ceiling. Resolved Open
// Question #2 in SPEC_FULL.md: the original system observed this value in
// code without a central constant; this repository names it explicitly.
const BackoffCeiling = 5 * time.Minute

// RetryPolicy is the cached value object consulted by Fail and by the
// provider gateway's own retry loop.
type RetryPolicy struct {
	MaxAttempts    int
	BaseSeconds    float64
	JitterPct      float64
	TimeoutSeconds float64
}

// Provider caches {job_type -> RetryPolicy} for ReloadInterval, merging
// global defaults with per-type overrides on each reload. The snapshot is
// swapped wholesale via atomic.Pointer so concurrent readers never
// observe a half-updated map.
type Provider struct {
	cfg       *config.Config
	snapshot  atomic.Pointer[map[string]RetryPolicy]
	loadedAt  atomic.Int64
	reloadDur time.Duration
}

// New constructs a Provider and performs an initial load.
func New(cfg *config.Config) *Provider {
	p := &Provider{
		cfg:       cfg,
		reloadDur: time.Duration(cfg.RetryPolicy.ReloadIntervalS) * time.Second,
	}
	p.reload()
	return p
}

// Get returns the resolved RetryPolicy for jobType, reloading the
// snapshot first if its TTL has elapsed.
func (p *Provider) Get(jobType string) RetryPolicy {
	if time.Since(time.Unix(0, p.loadedAt.Load())) > p.reloadDur {
		p.reload()
	}
	snap := *p.snapshot.Load()
	if policy, ok := snap[jobType]; ok {
		return policy
	}
	return p.defaultPolicy()
}

// Invalidate forces the next Get to reload the snapshot regardless of TTL.
func (p *Provider) Invalidate() {
	p.loadedAt.Store(0)
}

func (p *Provider) defaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: p.cfg.RetryPolicy.MaxAttempts,
		BaseSeconds: p.cfg.RetryPolicy.BaseSeconds,
		JitterPct:   p.cfg.RetryPolicy.JitterPct,
	}
}

func (p *Provider) reload() {
	def := p.defaultPolicy()
	next := map[string]RetryPolicy{}
	for jobType, override := range p.cfg.RetryPolicy.Overrides {
		policy := def
		if override.MaxAttempts > 0 {
			policy.MaxAttempts = override.MaxAttempts
		}
		if override.BaseSeconds > 0 {
			policy.BaseSeconds = override.BaseSeconds
		}
		if override.JitterPct > 0 {
			policy.JitterPct = override.JitterPct
		}
		if override.TimeoutSeconds > 0 {
			policy.TimeoutSeconds = override.TimeoutSeconds
		}
		next[jobType] = policy
	}
	p.snapshot.Store(&next)
	p.loadedAt.Store(time.Now().UnixNano())
}

// Backoff computes the retry delay for the given attempt number under
// policy: delay in [base*2^(a-1)*(1-j), base*2^(a-1)*(1+j)], clamped at
// BackoffCeiling. jitterPct values <= 1 are fractions; values >1 are
// treated as percentages (e.g. 20 means 0.20).
func Backoff(policy RetryPolicy, attempt int) time.Duration {
	return backoffWithJitter(policy, attempt, rand.Float64)
}

// backoffWithJitter takes an injectable [0,1) source so tests can pin the
// jitter draw and assert exact bounds.
func backoffWithJitter(policy RetryPolicy, attempt int, jitterSource func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	jitter := policy.JitterPct
	if jitter > 1 {
		jitter = jitter / 100
	}

	base := policy.BaseSeconds * pow2(attempt-1)
	low := base * (1 - jitter)
	high := base * (1 + jitter)

	draw := jitterSource()
	seconds := low + draw*(high-low)
	delay := time.Duration(seconds * float64(time.Second))
	if delay > BackoffCeiling {
		return BackoffCeiling
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
