package orchestrator

import (
	"context"
	"math"
	"time"
)

const (
	backoffInitial    = time.Second
	backoffMultiplier = 2.0
	backoffMax        = 30 * time.Second
)

// runnerBackoff returns the wait before runner attempt+1, growing
// exponentially and capped at backoffMax.
func runnerBackoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := float64(backoffInitial) * math.Pow(backoffMultiplier, float64(attempt-1))
	if backoff > float64(backoffMax) {
		return backoffMax
	}
	return time.Duration(backoff)
}

// sleepContext waits for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
