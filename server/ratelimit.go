package server

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimiter guards the mutating endpoints with a single global bucket:
// there is one operator, so per-client buckets buy nothing.
type rateLimiter struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.limiter.Allow() {
			s.logger.Warn("Rate limit exceeded", "path", r.URL.Path, "method", r.Method)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", s.limiter.rps))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", s.limiter.burst))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "Rate limit exceeded",
				"message": "Too many requests, please try again later",
			}, s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}
