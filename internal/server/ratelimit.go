package server

import (
	"context"
	"sync"
	"time"
)

// RateLimiter counts FAILED logins per IP address within a time window.
// Successful logins are not counted and clear the counter.
//
// Flow on LOGIN:
//  1. IsBlocked() - if true, reject without checking the password
//  2. Check the password
//  3. On failure call RecordFailure(), on success call Reset()
type RateLimiter struct {
	mu       sync.Mutex
	failures map[string]*rateLimitEntry
	limit    int
	window   time.Duration
	now      func() time.Time
}

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a limiter that blocks an IP after limit failures
// within window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// IsBlocked returns true if the IP has reached the failure limit.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.failures[ip]
	if !ok || rl.now().After(entry.resetTime) {
		return false
	}
	return entry.count >= rl.limit
}

// RecordFailure records a failed login and reports whether the IP is now
// blocked.
func (rl *RateLimiter) RecordFailure(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.failures[ip]
	if !ok || now.After(entry.resetTime) {
		entry = &rateLimitEntry{resetTime: now.Add(rl.window)}
		rl.failures[ip] = entry
	}
	entry.count++

	if entry.count == rl.limit {
		loginsBlockedTotal.Inc()
		return true
	}
	return false
}

// Reset clears the failure count for an IP.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// FailureCount returns the current failure count for an IP.
func (rl *RateLimiter) FailureCount(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.failures[ip]
	if !ok || rl.now().After(entry.resetTime) {
		return 0
	}
	return entry.count
}

// Run drops expired entries every window until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}
