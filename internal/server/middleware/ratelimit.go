package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// RateLimit returns middleware that spends one unit of limiter per request.
// Callers presenting an API key share a budget per key, others per client IP
// (RemoteAddr, already rewritten by chi's RealIP). window is the limiter's
// window and becomes Retry-After on 429. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	if window <= 0 {
		retryAfter = "1"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.WarnContext(r.Context(), "api rate limit exceeded",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey never embeds the raw API key; only a short digest reaches
// Redis and the logs.
func rateLimitKey(r *http.Request) string {
	if token, _ := extractToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "api:key:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "api:ip:" + host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
