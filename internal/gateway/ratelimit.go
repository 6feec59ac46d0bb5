package gateway

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by caller identity. Keys with
// no live requests are evicted so the map does not grow with client churn.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter allows limit requests per key in each window. A non-positive
// limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow records the request and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, time.Now())
	return true
}

// evictStale drops keys whose every request has aged out of the window.
func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for key, reqs := range rl.requests {
		live := false
		for _, t := range reqs {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.requests, key)
		}
	}
}

// StartEviction runs periodic eviction until stop is closed.
func (rl *RateLimiter) StartEviction(stop <-chan struct{}) {
	ticker := time.NewTicker(rl.window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.evictStale()
			case <-stop:
				return
			}
		}
	}()
}
