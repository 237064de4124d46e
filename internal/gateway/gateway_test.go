// Copyright 2025 James Ross
package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testClient(retryMax int) *Client {
	return NewClient("metadata", config.ProviderEndpoint{
		BaseURL:     "http://example.invalid",
		Timeout:     time.Second,
		RetryMax:    retryMax,
		BaseSeconds: 0.001,
		JitterPct:   0,
	}, config.CircuitBreaker{
		FailureThreshold: 0.5,
		Window:           time.Minute,
		CooldownPeriod:   time.Millisecond,
		MinSamples:       1,
	}, make(chan struct{}, 4), zap.NewNop())
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	c := testClient(2)
	attempts := 0
	err := c.Do(context.Background(), "search_tracks", func(ctx context.Context, client *resty.Client) error {
		attempts++
		if attempts < 2 {
			return Classify("metadata", "search_tracks", ClassTransient, errors.New("boom"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	c := testClient(3)
	attempts := 0
	err := c.Do(context.Background(), "search_tracks", func(ctx context.Context, client *resty.Client) error {
		attempts++
		return Classify("metadata", "search_tracks", ClassPermanent, errors.New("bad request"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	c := testClient(2)
	attempts := 0
	err := c.Do(context.Background(), "search_tracks", func(ctx context.Context, client *resty.Client) error {
		attempts++
		return Classify("metadata", "search_tracks", ClassTransient, errors.New("boom"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}
