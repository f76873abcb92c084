package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBucket_StartsFull(t *testing.T) {
	bucket := NewBucket(3, 1.0)

	for i := 0; i < 3; i++ {
		if !bucket.Allow() {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if bucket.Allow() {
		t.Error("4th request should be denied")
	}
}

func TestBucket_Refill(t *testing.T) {
	bucket := NewBucket(1, 100.0) // fast refill for testing

	if !bucket.Allow() {
		t.Fatal("first request should be allowed")
	}
	if bucket.Allow() {
		t.Error("second immediate request should be denied")
	}

	time.Sleep(30 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("request after refill should be allowed")
	}
}

func TestBucket_AcquireHonorsRate(t *testing.T) {
	const capacity = 2
	const rate = 50.0
	const calls = 10

	bucket := NewBucket(capacity, rate)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := bucket.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// Beyond the burst, tokens arrive at the refill rate. Allow slack for
	// timer granularity.
	minElapsed := time.Duration(float64(calls-capacity) / rate * float64(time.Second))
	if elapsed < minElapsed-20*time.Millisecond {
		t.Errorf("acquired %d tokens in %v, faster than the configured rate allows (min %v)", calls, elapsed, minElapsed)
	}
}

func TestBucket_AcquireCanceled(t *testing.T) {
	bucket := NewBucket(1, 0.01) // effectively no refill within the test
	if !bucket.Allow() {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bucket.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestBucket_Status(t *testing.T) {
	bucket := NewBucket(3, 1.0)
	bucket.Allow()

	remaining, reset := bucket.Status()
	if remaining != 2 {
		t.Errorf("expected 2 remaining, got %d", remaining)
	}
	if !reset.After(time.Now().Add(-time.Second)) {
		t.Error("reset time should be now or later")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	breaker := NewBreaker(3, time.Hour)

	breaker.RecordFailure()
	breaker.RecordFailure()
	if !breaker.Allow() {
		t.Error("circuit should stay closed below the threshold")
	}

	breaker.RecordFailure()
	if breaker.Allow() {
		t.Error("circuit should open at the threshold")
	}
	if breaker.RetryAfter() <= 0 {
		t.Error("open circuit should report a positive retry-after")
	}

	breaker.RecordSuccess()
	if !breaker.Allow() {
		t.Error("success should close the circuit")
	}
	if breaker.RetryAfter() != 0 {
		t.Error("closed circuit should report zero retry-after")
	}
}

func TestBreaker_CooldownAdmitsTrialCall(t *testing.T) {
	breaker := NewBreaker(1, 20*time.Millisecond)

	breaker.RecordFailure()
	if breaker.Allow() {
		t.Fatal("circuit should be open")
	}

	time.Sleep(30 * time.Millisecond)
	if !breaker.Allow() {
		t.Error("cooldown elapsed, trial call should be admitted")
	}

	// A failed trial restarts the cooldown.
	breaker.RecordFailure()
	if breaker.Allow() {
		t.Error("failed trial should reopen the circuit")
	}
}

func TestCoordinator_CircuitOpenPerHost(t *testing.T) {
	coord := NewCoordinator(Config{
		Rate:             100.0,
		Burst:            5,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Hour,
	})
	ctx := context.Background()

	coord.RecordFailure("broken.example.com")

	err := coord.Acquire(ctx, "broken.example.com")
	var circuitErr *CircuitOpenError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if circuitErr.Host != "broken.example.com" {
		t.Errorf("unexpected host in error: %s", circuitErr.Host)
	}

	// Other hosts are unaffected.
	if err := coord.Acquire(ctx, "healthy.example.com"); err != nil {
		t.Errorf("healthy host should acquire: %v", err)
	}
}

func TestCoordinator_Defaults(t *testing.T) {
	coord := NewCoordinator(Config{})

	if err := coord.Acquire(context.Background(), "example.com"); err != nil {
		t.Errorf("acquire with default config failed: %v", err)
	}
	coord.RecordSuccess("example.com")
}
