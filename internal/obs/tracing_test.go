// Copyright 2025 James Ross
package obs

import (
	"context"
	"testing"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeInitTracing(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		expectNil bool
	}{
		{
			name: "tracing disabled",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{Enabled: false},
				},
			},
			expectNil: true,
		},
		{
			name: "tracing enabled without endpoint",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{Enabled: true},
				},
			},
			expectNil: true,
		},
		{
			name: "tracing enabled with endpoint",
			cfg: &config.Config{
				Observability: config.Observability{
					Tracing: config.TracingConfig{
						Enabled:      true,
						Endpoint:     "localhost:4318",
						Environment:  "test",
						SamplingRate: 1.0,
						Insecure:     true,
					},
				},
			},
			expectNil: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := MaybeInitTracing(tt.cfg)
			require.NoError(t, err)
			if tt.expectNil {
				assert.Nil(t, tp)
				return
			}
			require.NotNil(t, tp)
			assert.NoError(t, TracerShutdown(context.Background(), tp))
		})
	}
}

func TestContextWithJobSpan(t *testing.T) {
	ctx, span := ContextWithJobSpan(context.Background(), "job-1", "sync", 2)
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestStartEnqueueSpan(t *testing.T) {
	ctx, span := StartEnqueueSpan(context.Background(), "sync", 100)
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestStartLeaseSpan(t *testing.T) {
	ctx, span := StartLeaseSpan(context.Background(), "matching")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestStartDependencySpan(t *testing.T) {
	ctx, span := StartDependencySpan(context.Background(), "metadata", "lookup_artist")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestRecordErrorAndSuccess(t *testing.T) {
	ctx, span := ContextWithJobSpan(context.Background(), "job-2", "retry", 1)
	defer span.End()

	RecordError(ctx, assert.AnError)
	SetSpanSuccess(ctx)
	AddEvent(ctx, "retry.scheduled")
	AddSpanAttributes(ctx)
}

func TestTracerShutdownNil(t *testing.T) {
	assert.NoError(t, TracerShutdown(context.Background(), nil))
}

func TestKeyValue(t *testing.T) {
	assert.Equal(t, "v", KeyValue("k", "v").Value.AsString())
	assert.Equal(t, int64(5), KeyValue("k", 5).Value.AsInt64())
	assert.True(t, KeyValue("k", true).Value.AsBool())
}
