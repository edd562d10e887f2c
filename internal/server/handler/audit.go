package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// AuditReader defines the audit store reads the handler requires.
type AuditReader interface {
	List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?event=order_submitted&event_id=&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.AuditFilter{
		TradeEventID: r.URL.Query().Get("event_id"),
		ListOpts:     opts,
	}
	if v := r.URL.Query().Get("event"); v != "" {
		if filter.Event, err = domain.ParseAuditEvent(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
