// Copyright 2025 James Ross
// Package gateway implements the Provider Gateway (C3): a single contract
// over the metadata provider and the peer-to-peer daemon, enforcing
// per-provider timeouts, retries with jitter, and a global concurrency
// semaphore, and emitting the `api.dependency` structured event on every
// attempt.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/breaker"
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrClass classifies a provider error for retry/surface decisions.
type ErrClass int

const (
	ClassTransient ErrClass = iota
	ClassPermanent
	ClassRateLimited
	ClassAuth
)

// ClassifiedError attaches an ErrClass to an underlying provider error.
type ClassifiedError struct {
	Class    ErrClass
	Provider string
	Op       string
	Cause    error
}

func (e *ClassifiedError) Error() string { return e.Op + ": " + e.Cause.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

func Classify(provider, op string, class ErrClass, cause error) *ClassifiedError {
	return &ClassifiedError{Class: class, Provider: provider, Op: op, Cause: cause}
}

// Client is a timeout/retry/jitter-bounded wrapper around a resty client
// for one external provider, reusing the teacher's sliding-window
// CircuitBreaker to avoid hammering a degraded dependency.
type Client struct {
	name       string
	http       *resty.Client
	breaker    *breaker.CircuitBreaker
	sem        chan struct{}
	retryMax   int
	base       float64
	jitterPct  float64
	log        *zap.Logger
}

// NewClient builds a provider-bound client. sem is the gateway-wide
// concurrency semaphore shared across every provider (PROVIDER_MAX_CONCURRENCY).
func NewClient(name string, endpoint config.ProviderEndpoint, cbCfg config.CircuitBreaker, sem chan struct{}, log *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(endpoint.BaseURL).
		SetTimeout(endpoint.Timeout)

	return &Client{
		name:      name,
		http:      http,
		breaker:   breaker.New(name, cbCfg.Window, cbCfg.CooldownPeriod, cbCfg.FailureThreshold, cbCfg.MinSamples),
		sem:       sem,
		retryMax:  endpoint.RetryMax,
		base:      endpoint.BaseSeconds,
		jitterPct: endpoint.JitterPct,
		log:       log,
	}
}

// Do executes fn (a single attempt against the provider) with retries,
// jittered backoff, circuit-breaker admission, and the global semaphore.
// fn must classify its own failures via Classify.
func (c *Client) Do(ctx context.Context, operation string, fn func(ctx context.Context, client *resty.Client) error) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMax+1; attempt++ {
		if !c.breaker.Allow() {
			lastErr = Classify(c.name, operation, ClassTransient, errors.New("circuit open"))
			break
		}

		spanCtx, span := obs.StartDependencySpan(ctx, c.name, operation)
		start := time.Now()
		err := fn(spanCtx, c.http)
		duration := time.Since(start)

		status := "ok"
		var classified *ClassifiedError
		retry := false
		if err != nil {
			status = "error"
			if errors.As(err, &classified) {
				retry = classified.Class == ClassTransient || classified.Class == ClassRateLimited
			} else {
				classified = Classify(c.name, operation, ClassTransient, err)
				retry = true
			}
		}
		c.breaker.Record(err == nil)

		c.log.Info("api.dependency",
			obs.String("provider", c.name),
			obs.String("operation", operation),
			obs.Int("attempt", attempt),
			obs.String("status", status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
		obs.ProviderDependencyDuration.WithLabelValues(c.name, operation, status).Observe(duration.Seconds())
		obs.ProviderDependencyTotal.WithLabelValues(c.name, operation, status).Inc()
		obs.AddSpanAttributes(spanCtx, obs.KeyValue("attempt", attempt), obs.KeyValue("status", status), obs.KeyValue("duration_ms", duration.Milliseconds()))
		obs.RecordError(spanCtx, err)
		span.End()

		if err == nil {
			return nil
		}
		lastErr = classified
		if !retry || attempt > c.retryMax {
			break
		}
		select {
		case <-time.After(jitteredDelay(c.base, attempt, c.jitterPct)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func jitteredDelay(base float64, attempt int, jitterPct float64) time.Duration {
	if jitterPct > 1 {
		jitterPct = jitterPct / 100
	}
	seconds := base
	for i := 1; i < attempt; i++ {
		seconds *= 2
	}
	low := seconds * (1 - jitterPct)
	high := seconds * (1 + jitterPct)
	delay := low + rand.Float64()*(high-low)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(time.Second))
}
