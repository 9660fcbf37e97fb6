package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// RateLimit returns middleware that allows each client address at most limit
// requests per window on the paths selected by limited (every path when
// limited is nil). Limiter failures let the request through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, limited func(path string) bool) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limited != nil && !limited(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), "api:"+clientAddr(r), limit, window)
			if err == nil && !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many report requests, retry later"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr is the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientAddr(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
