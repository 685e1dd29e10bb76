package server

import (
	"sync"
	"time"
)

// Simple token bucket per IP with fixed refill interval and capacity.
type ipRateLimiter struct {
	cap    int
	refill time.Duration

	// protect buckets
	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens int
	last   time.Time
}

func newIPRateLimiter(cap int, refill time.Duration) *ipRateLimiter {
	rl := &ipRateLimiter{
		cap:     cap,
		refill:  refill,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{tokens: rl.cap - 1, last: now}
		rl.buckets[key] = b
		return true
	}
	// refill if interval passed
	if d := now.Sub(b.last); d >= rl.refill {
		// reset once per interval
		b.tokens = rl.cap
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Stop terminates the cleanup goroutine; safe to call multiple times.
func (rl *ipRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Buckets idle this long are dropped so the map does not grow without bound.
const bucketTTL = 24 * time.Hour

// janitor periodically evicts stale buckets until Stop is called.
func (rl *ipRateLimiter) janitor() {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
			rl.cleanup()
		}
	}
}

func (rl *ipRateLimiter) cleanup() {
	now := time.Now()
	rl.mu.Lock()
	for key, b := range rl.buckets {
		if now.Sub(b.last) > bucketTTL {
			delete(rl.buckets, key)
		}
	}
	rl.mu.Unlock()
}
