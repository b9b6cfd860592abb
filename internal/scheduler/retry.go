package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy is the exponential-backoff-with-jitter policy the
// Scheduler uses when deciding whether and how long to wait before
// respawning a worker that exited abnormally. Adapted from an HTTP-retry
// strategy to process-respawn retries: the backoff math is identical,
// only the thing being retried changed.
type RetryStrategy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
}

// NewRetryStrategy returns the respawn policy: maxAttempts retries, a
// short base backoff, capped low since a worker respawn is much cheaper
// to retry quickly than an HTTP call across the network.
func NewRetryStrategy(maxAttempts int) *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: maxAttempts,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Jitter:      true,
	}
}

// CalculateBackoff returns the wait before attemptNumber (1-indexed):
// exponential growth capped at MaxBackoff, plus up to ±10% jitter.
func (s *RetryStrategy) CalculateBackoff(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseBackoff
	}

	exponent := float64(attemptNumber - 1)
	backoff := time.Duration(math.Pow(2, exponent)) * s.BaseBackoff
	if backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}

	if s.Jitter {
		jitterRange := backoff / 10
		if jitterRange > 0 {
			jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
			backoff += jitter
			if backoff < s.BaseBackoff {
				backoff = s.BaseBackoff
			}
		}
	}
	return backoff
}

// CanRetry reports whether attemptNumber (the respawn about to be made)
// is still within MaxAttempts.
func (s *RetryStrategy) CanRetry(attemptNumber int) bool {
	return attemptNumber <= s.MaxAttempts
}
