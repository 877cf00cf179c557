package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-user API rate limits
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter
// requestsPerMinute: total requests allowed per minute per user (e.g., 120)
// burst: max requests in a burst (e.g., 20)
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	r := rate.Limit(float64(requestsPerMinute) / 60.0)

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// getLimiter returns the rate limiter for a specific user
func (l *Limiter) getLimiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = limiter
	}

	return limiter
}

// Allow checks if a request is allowed for the given user
func (l *Limiter) Allow(userID string) bool {
	return l.getLimiter(userID).Allow()
}

// Tokens returns the current number of available tokens for a user
func (l *Limiter) Tokens(userID string) float64 {
	return l.getLimiter(userID).Tokens()
}

// PerMinute returns the configured steady-state rate as whole requests
// per minute, the unit the API advertises in its rate-limit headers.
func (l *Limiter) PerMinute() int {
	return int(float64(l.rate) * 60)
}
