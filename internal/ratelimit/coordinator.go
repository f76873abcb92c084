package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitOpenError is returned by Acquire when the host's breaker is open.
// Callers fail fast instead of consuming retry budget against a host that is
// known to be down.
type CircuitOpenError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s: retry after %s", e.Host, e.RetryAfter.Round(time.Millisecond))
}

// Config holds the per-host limiter and breaker settings. Capacity and rate
// are fixed at construction; they are not reconfigurable per job.
type Config struct {
	Rate             float64       // tokens per second per host
	Burst            int           // bucket capacity per host
	BreakerThreshold int           // consecutive failures before the circuit opens
	BreakerCooldown  time.Duration // how long an open circuit rejects calls
}

// DefaultConfig matches the upstream service's politeness allowance of
// 3 requests per second without an API key.
func DefaultConfig() Config {
	return Config{
		Rate:             3.0,
		Burst:            6,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

type hostState struct {
	bucket  *Bucket
	breaker *Breaker
}

// Coordinator owns the token buckets and circuit breakers shared by every
// concurrent fetch across every job in the process. It is an injected
// dependency, not a package-level singleton, so tests get isolated instances
// and a process can run independent coordinators against different hosts.
type Coordinator struct {
	mu    sync.RWMutex
	cfg   Config
	hosts map[string]*hostState
}

// NewCoordinator creates a coordinator with the given per-host settings.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BreakerThreshold < 1 {
		cfg.BreakerThreshold = DefaultConfig().BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultConfig().BreakerCooldown
	}
	return &Coordinator{cfg: cfg, hosts: make(map[string]*hostState)}
}

// host returns the state for a host, creating it on first use.
func (c *Coordinator) host(name string) *hostState {
	c.mu.RLock()
	hs, ok := c.hosts[name]
	c.mu.RUnlock()
	if ok {
		return hs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Double-check after acquiring the write lock.
	if existing, ok := c.hosts[name]; ok {
		return existing
	}
	hs = &hostState{
		bucket:  NewBucket(c.cfg.Burst, c.cfg.Rate),
		breaker: NewBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerCooldown),
	}
	c.hosts[name] = hs
	return hs
}

// Acquire checks the host's circuit and then blocks for a rate limit token.
// It returns *CircuitOpenError without consuming a token when the circuit is
// open, or the context error if the wait is canceled.
func (c *Coordinator) Acquire(ctx context.Context, hostname string) error {
	hs := c.host(hostname)
	if !hs.breaker.Allow() {
		return &CircuitOpenError{Host: hostname, RetryAfter: hs.breaker.RetryAfter()}
	}
	return hs.bucket.Acquire(ctx)
}

// RecordSuccess reports a successful call to the host's breaker.
func (c *Coordinator) RecordSuccess(hostname string) {
	c.host(hostname).breaker.RecordSuccess()
}

// RecordFailure reports a failed call to the host's breaker.
func (c *Coordinator) RecordFailure(hostname string) {
	c.host(hostname).breaker.RecordFailure()
}
