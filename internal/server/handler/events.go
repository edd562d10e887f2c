package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// EventReader defines the activity store reads the events handler requires.
type EventReader interface {
	Get(ctx context.Context, id string) (domain.TradeEvent, error)
	List(ctx context.Context, filter domain.EventFilter) ([]domain.TradeEvent, error)
}

// EventHandler serves TradeEvent queries.
type EventHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// ListEvents returns trade events, newest first.
// GET /api/events?address=0x...&state=executed&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	filter := domain.EventFilter{
		Address:  q.Get("address"),
		State:    domain.EventState(q.Get("state")),
		ListOpts: opts,
	}
	if filter.State != "" && !filter.State.Valid() {
		writeError(w, http.StatusBadRequest, "state must be one of new, in_flight, executed, skipped")
		return
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent returns a single trade event.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get event failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
