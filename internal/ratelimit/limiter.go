package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages client-side request rates for the remote sources.
// Sources without a configured rate are not limited.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a Limiter from requests-per-second values keyed by source.
// A value <= 0 leaves that source unlimited.
func New(perSecond map[string]float64) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter, len(perSecond)),
	}
	for source, rps := range perSecond {
		l.Set(source, rps)
	}
	return l
}

// Set replaces the rate for a source
func (l *Limiter) Set(source string, rps float64) {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	l.mu.Lock()
	l.limiters[source] = rate.NewLimiter(limit, 1)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits a request to the given source.
// It returns an error if the context is canceled before the request can proceed.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	limiter, exists := l.limiters[source]
	l.mu.RUnlock()

	if !exists {
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether a request to the given source may happen now
func (l *Limiter) Allow(source string) bool {
	if l == nil {
		return true
	}

	l.mu.RLock()
	limiter, exists := l.limiters[source]
	l.mu.RUnlock()

	if !exists {
		return true
	}

	return limiter.Allow()
}
