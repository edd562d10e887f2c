package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// TradingStatus reports whether the executor may place orders.
type TradingStatus interface {
	TradingEnabled() bool
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	trading   TradingStatus
	pingers   map[string]Pinger
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given run mode.
func NewHealthHandler(mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now(),
		pingers:   make(map[string]Pinger),
		logger:    logger,
	}
}

// SetTradingStatus reports the executor's trading flag in health responses.
func (h *HealthHandler) SetTradingStatus(t TradingStatus) {
	h.trading = t
}

// AddDependency checks p under name on every health request.
func (h *HealthHandler) AddDependency(name string, p Pinger) {
	h.pingers[name] = p
}

// HealthCheck responds with the process status. Any failing dependency
// turns the response into a 503 with status "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.pingers))
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health dependency failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   deps,
	}
	if h.trading != nil {
		body["trading_enabled"] = h.trading.TradingEnabled()
	}
	writeJSON(w, code, body)
}
