// Copyright 2025 James Ross
// Package breaker implements a sliding-window circuit breaker: Allow
// admits or rejects a call, Record reports the outcome, and a trip to
// Open is reflected in the provider's circuit_breaker_state gauge so a
// degraded dependency shows up on its own dashboard panel rather than
// only as elevated retry counts.
package breaker

import (
	"sync"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/obs"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

type result struct {
	t  time.Time
	ok bool
}

// CircuitBreaker is a per-provider sliding-window breaker: over the
// trailing window, once minSamples observations are in and the failure
// rate reaches failureThresh, it trips Open and rejects calls until
// cooldown elapses, then allows exactly one HalfOpen probe to decide
// whether to close again.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	state            State
	window           time.Duration
	cooldown         time.Duration
	failureThresh    float64
	minSamples       int
	lastTransition   time.Time
	results          []result
	halfOpenInFlight bool
}

// New builds a breaker for the named provider (used as the
// circuit_breaker_state/circuit_breaker_trips_total metric label).
func New(name string, window time.Duration, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, state: Closed, window: window, cooldown: cooldown, failureThresh: failureThresh, minSamples: minSamples, lastTransition: time.Now()}
	obs.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return cb
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState transitions cb.state, updating the state gauge and, on a
// trip to Open, the trip counter. Caller must hold cb.mu.
func (cb *CircuitBreaker) setState(s State) {
	if s == cb.state {
		return
	}
	cb.state = s
	obs.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
	if s == Open {
		obs.CircuitBreakerTrips.WithLabelValues(cb.name).Inc()
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastTransition) >= cb.cooldown {
			cb.setState(HalfOpen)
			cb.lastTransition = time.Now()
			// allow exactly one probe while HalfOpen
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	// purge old
	cutoff := now.Add(-cb.window)
	filtered := cb.results[:0]
	for _, r := range cb.results {
		if r.t.After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	cb.results = append(filtered, result{t: now, ok: ok})

	// compute failure rate
	total := len(cb.results)
	if total < cb.minSamples {
		if cb.state == HalfOpen {
			if ok {
				cb.setState(Closed)
			} else {
				cb.setState(Open)
			}
			cb.lastTransition = now
		}
		return
	}
	fails := 0
	for _, r := range cb.results {
		if !r.ok {
			fails++
		}
	}
	rate := float64(fails) / float64(total)
	switch cb.state {
	case Closed:
		if rate >= cb.failureThresh {
			cb.setState(Open)
			cb.lastTransition = now
		}
	case HalfOpen:
		if ok {
			cb.setState(Closed)
		} else {
			cb.setState(Open)
		}
		// the single probe completed; allow a future probe after cooldown or next Allow
		cb.halfOpenInFlight = false
		cb.lastTransition = now
	case Open:
		// handled in Allow()
	}
}
