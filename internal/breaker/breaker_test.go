// Copyright 2025 James Ross
package breaker

import (
	"testing"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBreakerTransitions(t *testing.T) {
	cb := New("metadata", 2*time.Second, 200*time.Millisecond, 0.5, 2)
	require.Equal(t, Closed, cb.State())

	cb.Record(false)
	cb.Record(false)
	require.Equal(t, Open, cb.State())
	require.False(t, cb.Allow(), "should not allow until cooldown elapses")

	time.Sleep(250 * time.Millisecond)
	require.True(t, cb.Allow(), "should allow exactly one probe in half-open")

	cb.Record(true)
	require.Equal(t, Closed, cb.State())
}

func TestBreakerStateStringAndMetricLabel(t *testing.T) {
	require.Equal(t, "closed", Closed.String())
	require.Equal(t, "half_open", HalfOpen.String())
	require.Equal(t, "open", Open.String())

	cb := New("peer", time.Second, 10*time.Millisecond, 0.5, 2)
	require.Equal(t, float64(Closed), testutil.ToFloat64(obs.CircuitBreakerState.WithLabelValues("peer")))

	cb.Record(false)
	cb.Record(false)
	require.Equal(t, float64(Open), testutil.ToFloat64(obs.CircuitBreakerState.WithLabelValues("peer")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.CircuitBreakerTrips.WithLabelValues("peer")))
}
