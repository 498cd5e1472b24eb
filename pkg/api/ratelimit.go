package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter rate limits quote submissions per source id.
type sourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newSourceLimiter(perSecond float64, burst int) *sourceLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether source may submit another quote now.
func (l *sourceLimiter) Allow(source string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[source] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
