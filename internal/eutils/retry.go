package eutils

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the backoff behavior of one upstream call. It is
// applied per individual call, never per job.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	JitterFraction    float64
}

// DefaultRetryPolicy mirrors the upstream service's recommended client
// behavior: four attempts, half-second base, doubling up to eight seconds,
// with 25% jitter to avoid thundering-herd resynchronization.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BaseDelay:         500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          8 * time.Second,
		JitterFraction:    0.25,
	}
}

// Delay computes the backoff before retry number attempt (zero-based):
// min(base * multiplier^attempt, max), randomized by ±JitterFraction.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	jitter := base * p.JitterFraction * (2*rand.Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// MinElapsed returns the smallest total backoff a call retried n times can
// spend sleeping. Used by tests to assert that backoff really happened.
func (p RetryPolicy) MinElapsed(retries int) time.Duration {
	var total float64
	for attempt := 0; attempt < retries; attempt++ {
		base := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
		if max := float64(p.MaxDelay); base > max {
			base = max
		}
		total += base * (1 - p.JitterFraction)
	}
	return time.Duration(total)
}
