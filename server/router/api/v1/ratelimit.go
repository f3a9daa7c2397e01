package v1

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedLimiters bounds the registry; stale buckets are pruned once
	// it is exceeded.
	maxTrackedLimiters = 4096
	limiterIdleTTL     = time.Hour
)

// perMinute converts a messages-per-minute budget into a rate.Limit. A
// non-positive budget disables limiting.
func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterRegistry hands out one token bucket per user id.
type limiterRegistry struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newLimiterRegistry(limit rate.Limit, burst int) *limiterRegistry {
	if burst <= 0 {
		burst = 1
	}
	return &limiterRegistry{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

func (r *limiterRegistry) allow(key string) bool {
	r.mu.Lock()
	ul, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxTrackedLimiters {
			r.pruneLocked()
		}
		ul = &userLimiter{lim: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = ul
	}
	ul.lastSeen = time.Now()
	r.mu.Unlock()
	return ul.lim.Allow()
}

func (r *limiterRegistry) pruneLocked() {
	cutoff := time.Now().Add(-limiterIdleTTL)
	for key, ul := range r.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
}
