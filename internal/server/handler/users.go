package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/service"
)

// WatchlistService defines the methods that the users handler requires.
type WatchlistService interface {
	Add(ctx context.Context, address, name string) (domain.WatchEntry, error)
	Remove(ctx context.Context, address string) error
	List(ctx context.Context) ([]domain.WatchEntry, error)
	Addresses(ctx context.Context) ([]string, error)
}

// UsersHandler serves the watch-list endpoints.
type UsersHandler struct {
	watch  WatchlistService
	logger *slog.Logger
}

// NewUsersHandler creates a UsersHandler.
func NewUsersHandler(watch WatchlistService, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{watch: watch, logger: logger}
}

// addUserRequest is the JSON body for POST /api/users.
type addUserRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ListUsers returns the watched addresses as a JSON array of strings.
// GET /api/users
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.watch.Addresses(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list users failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if addrs == nil {
		addrs = []string{}
	}
	writeJSON(w, http.StatusOK, addrs)
}

// ListWatchlist returns full watch entries including backfill state.
// GET /api/watchlist
func (h *UsersHandler) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.watch.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list watchlist failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list watchlist")
		return
	}
	if entries == nil {
		entries = []domain.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AddUser starts watching an address. Re-adding is a no-op.
// POST /api/users
func (h *UsersHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	entry, err := h.watch.Add(r.Context(), req.Address, req.Name)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, "address must be a 0x-prefixed 40 hex character address")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: add user failed",
			slog.String("address", req.Address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to add user")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// RemoveUser stops watching an address.
// DELETE /api/users/{address}
func (h *UsersHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := h.watch.Remove(r.Context(), address); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: remove user failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to remove user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
