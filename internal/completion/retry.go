package completion

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a failed provider call is repeated. Backoff
// receives the 1-based number of the attempt that just failed and whether the
// provider reported overload.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int, overloaded bool) time.Duration
}

// DefaultRetryPolicy makes 3 attempts, waiting attempt×2s after an overload
// and 1s after any other transient failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(2*time.Second, time.Second)}
}

// LinearBackoff waits attempt×step after an overload and fixed otherwise.
func LinearBackoff(step, fixed time.Duration) func(int, bool) time.Duration {
	return func(attempt int, overloaded bool) time.Duration {
		if overloaded {
			return time.Duration(attempt) * step
		}
		return fixed
	}
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p RetryPolicy) delay(attempt int, overloaded bool) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt, overloaded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
