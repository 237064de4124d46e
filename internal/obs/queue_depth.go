// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DepthCounter reports the number of ready jobs per job type. The queue
// store implements this without obs importing internal/queue, mirroring
// how the teacher's queue-length sampler took a *redis.Client directly.
type DepthCounter func(ctx context.Context) (map[string]int, error)

// StartQueueDepthUpdater samples queue depth on an interval and updates
// the QueueDepth gauge, the relational-store analogue of the teacher's
// StartQueueLengthUpdater (which polled Redis LLEN per queue).
func StartQueueDepthUpdater(ctx context.Context, interval time.Duration, counts DepthCounter, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depths, err := counts(ctx)
				if err != nil {
					log.Debug("queue depth poll error", Err(err))
					continue
				}
				for jobType, n := range depths {
					QueueDepth.WithLabelValues(jobType).Set(float64(n))
				}
			}
		}
	}()
}
