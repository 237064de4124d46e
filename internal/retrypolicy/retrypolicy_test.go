// Copyright 2025 James Ross
package retrypolicy

import (
	"testing"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		RetryPolicy: config.RetryPolicyDefaults{
			ReloadIntervalS: 10,
			MaxAttempts:     5,
			BaseSeconds:     1,
			JitterPct:       0.2,
			CeilingSeconds:  300,
			Overrides: map[string]config.RetryTypeOverride{
				"matching": {MaxAttempts: 3, BaseSeconds: 2},
			},
		},
	}
}

func TestGetAppliesOverrides(t *testing.T) {
	p := New(testConfig())
	policy := p.Get("matching")
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 2.0, policy.BaseSeconds)
}

func TestGetFallsBackToDefault(t *testing.T) {
	p := New(testConfig())
	policy := p.Get("sync")
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 1.0, policy.BaseSeconds)
}

func TestBackoffFormulaBounds(t *testing.T) {
	policy := RetryPolicy{BaseSeconds: 1, JitterPct: 0.2}

	low := backoffWithJitter(policy, 3, func() float64 { return 0 })
	high := backoffWithJitter(policy, 3, func() float64 { return 1 })

	base := 1.0 * 4 // 2^(3-1)
	wantLow := time.Duration(base * 0.8 * float64(time.Second))
	wantHigh := time.Duration(base * 1.2 * float64(time.Second))

	assert.Equal(t, wantLow, low)
	assert.Equal(t, wantHigh, high)
}

func TestBackoffClampsAtCeiling(t *testing.T) {
	policy := RetryPolicy{BaseSeconds: 1000, JitterPct: 0}
	d := backoffWithJitter(policy, 10, func() float64 { return 0.5 })
	assert.Equal(t, BackoffCeiling, d)
}

func TestBackoffTreatsPercentJitterAboveOne(t *testing.T) {
	policy := RetryPolicy{BaseSeconds: 1, JitterPct: 20}
	low := backoffWithJitter(policy, 1, func() float64 { return 0 })
	assert.InDelta(t, 0.8, low.Seconds(), 0.001)
}

func TestInvalidateForcesReload(t *testing.T) {
	cfg := testConfig()
	p := New(cfg)
	cfg.RetryPolicy.Overrides["matching"] = config.RetryTypeOverride{MaxAttempts: 9}
	p.Invalidate()
	policy := p.Get("matching")
	require.Equal(t, 9, policy.MaxAttempts)
}
