package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/service"
)

// LeaderboardService defines the methods that the leaderboard handler requires.
type LeaderboardService interface {
	Get(ctx context.Context, period string) ([]domain.LeaderboardEntry, error)
}

// LeaderboardHandler serves the trader leaderboard.
type LeaderboardHandler struct {
	leaderboard LeaderboardService
	logger      *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(leaderboard LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: leaderboard, logger: logger}
}

// GetLeaderboard returns the top traders for a period.
// GET /api/leaderboard?timePeriod=MONTH
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("timePeriod")

	entries, err := h.leaderboard.Get(r.Context(), period)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, "timePeriod must be one of DAY, WEEK, MONTH, ALL")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: leaderboard fetch failed",
			slog.String("period", period),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch leaderboard data")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
