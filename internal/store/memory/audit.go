package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// AuditStore is an in-memory, append-only domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an empty log.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event domain.AuditEvent, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries matching f, newest first.
func (s *AuditStore) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		if f.TradeEventID != "" && e.TradeEventID() != f.TradeEventID {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.ListOpts), nil
}
