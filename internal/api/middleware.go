package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/internal/ratelimit"
)

// Identity is carried on headers set by the front proxy after auth:
// X-User-ID names the caller, X-License their tier.
func userOf(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func licenseOf(r *http.Request) license.License {
	return license.Normalize(r.Header.Get("X-License"))
}

// RequireUser rejects requests without a user identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userOf(r) == "" {
			writeError(w, http.StatusUnauthorized, "MISSING_USER", "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware creates a middleware that enforces per-user rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	requestsPerMinute := limiter.PerMinute()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userOf(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)

				json.NewEncoder(w).Encode(map[string]string{
					"code":  "RATE_LIMITED",
					"error": "Rate limit exceeded, slow down.",
				})
				return
			}

			tokens := limiter.Tokens(userID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}
