package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Auth returns middleware that requires apiKey as a Bearer token or an
// X-API-Key header. WebSocket upgrades may pass it as ?api_key= because
// browsers cannot set headers on the handshake. An empty apiKey disables
// the check.
func Auth(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source := extractToken(r)
			if token == "" {
				reject(w, r, logger, "missing api key", source)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				reject(w, r, logger, "invalid api key", source)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken returns the presented key and where it came from.
func extractToken(r *http.Request) (token, source string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, value, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value), "bearer"
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key), "header"
	}
	if isWebSocketUpgrade(r) {
		if key := r.URL.Query().Get("api_key"); key != "" {
			return strings.TrimSpace(key), "query"
		}
	}
	return "", "none"
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg, source string) {
	logger.WarnContext(r.Context(), "api request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("token_source", source),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("reason", msg),
	)
	w.Header().Set("WWW-Authenticate", `Bearer realm="copybot"`)
	writeJSONError(w, http.StatusUnauthorized, msg)
}
