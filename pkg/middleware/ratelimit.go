/**
 * @description
 * Rate limiting middleware keyed by client IP. The limiter itself is pluggable
 * (Redis-backed or in-process), see pkg/ratelimit.
 */
package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/transfa/access-service/pkg/ratelimit"
)

// RateLimit rejects requests over the limiter's budget with 429 and a
// Retry-After header. Limiter errors are logged and the request is let through.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			allowed, retryAfter, err := limiter.Allow(r.Context(), clientIP)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "client_ip", clientIP, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error_code":    "RATE_LIMITED",
					"error_message": "Rate limit exceeded. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// only reflected here once TrustedRealIP has rewritten RemoteAddr for a
// request that came through a trusted proxy.
func GetClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
