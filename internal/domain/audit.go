package domain

import (
	"context"
	"fmt"
	"time"
)

// AuditEvent names one kind of audit log row.
type AuditEvent string

const (
	// AuditOrderSubmitted is written for every order attempt, filled or not.
	AuditOrderSubmitted AuditEvent = "order_submitted"
	// AuditResolveFailed marks an event whose terminal write failed after
	// orders may already have been placed.
	AuditResolveFailed   AuditEvent = "resolve_failed"
	AuditWatchAdded      AuditEvent = "watch_added"
	AuditWatchRemoved    AuditEvent = "watch_removed"
	AuditArchiveUploaded AuditEvent = "archive_uploaded"
)

// ParseAuditEvent accepts only the known audit event names.
func ParseAuditEvent(s string) (AuditEvent, error) {
	switch e := AuditEvent(s); e {
	case AuditOrderSubmitted, AuditResolveFailed, AuditWatchAdded, AuditWatchRemoved, AuditArchiveUploaded:
		return e, nil
	}
	return "", fmt.Errorf("unknown audit event %q", s)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     AuditEvent     `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// TradeEventID returns the TradeEvent the entry refers to, if any.
func (e AuditEntry) TradeEventID() string {
	id, _ := e.Detail["event_id"].(string)
	return id
}

// AuditFilter narrows audit queries. Empty fields match everything.
type AuditFilter struct {
	Event AuditEvent
	// TradeEventID matches entries whose detail carries this event_id.
	TradeEventID string
	ListOpts
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event AuditEvent, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
