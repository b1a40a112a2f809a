package ai

import (
	"math/rand"
	"time"
)

// RetryPolicy controls gateway retries of transient failures
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns 3 attempts, 1s base, 10s cap, no jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the wait before the next attempt after `attempt` failures (1-based)
func (p RetryPolicy) Delay(attempt int, rnd *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && rnd != nil && delay > 0 {
		// Full jitter in [delay/2, delay]
		half := delay / 2
		delay = half + time.Duration(rnd.Int63n(int64(half)+1))
	}

	return delay
}
