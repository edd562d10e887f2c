package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// PositionReader defines the position store reads the handler requires.
type PositionReader interface {
	List(ctx context.Context, address string) ([]domain.PositionSnapshot, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given store and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// ListPositions returns the latest position snapshots of watched addresses.
// Without an address every snapshot is returned.
// GET /api/positions?address=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")

	positions, err := h.positions.List(r.Context(), address)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.PositionSnapshot{}
	}

	writeJSON(w, http.StatusOK, positions)
}
