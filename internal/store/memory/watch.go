package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// WatchStore is an in-memory domain.WatchStore.
type WatchStore struct {
	mu   sync.RWMutex
	data map[string]domain.WatchEntry
	now  func() time.Time
}

var _ domain.WatchStore = (*WatchStore)(nil)

// NewWatchStore creates an empty store.
func NewWatchStore() *WatchStore {
	return &WatchStore{data: make(map[string]domain.WatchEntry), now: time.Now}
}

// Add inserts the entry un-backfilled; an existing address is left untouched.
func (s *WatchStore) Add(_ context.Context, e domain.WatchEntry) error {
	e.Address = domain.NormalizeAddress(e.Address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[e.Address]; ok {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.BackfilledAt = nil
	s.data[e.Address] = e
	return nil
}

// Remove deletes the address. Returns ErrNotFound when it is not watched.
func (s *WatchStore) Remove(_ context.Context, address string) error {
	addr := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[addr]; !ok {
		return domain.ErrNotFound
	}
	delete(s.data, addr)
	return nil
}

// Get returns one entry.
func (s *WatchStore) Get(_ context.Context, address string) (domain.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[domain.NormalizeAddress(address)]
	if !ok {
		return domain.WatchEntry{}, domain.ErrNotFound
	}
	return e, nil
}

// List returns all entries, oldest first.
func (s *WatchStore) List(_ context.Context) ([]domain.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WatchEntry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Address < out[j].Address
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkBackfilled records that historical activity of address was skipped.
func (s *WatchStore) MarkBackfilled(_ context.Context, address string, at time.Time) error {
	addr := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[addr]
	if !ok {
		return domain.ErrNotFound
	}
	at = at.UTC()
	e.BackfilledAt = &at
	s.data[addr] = e
	return nil
}

// ResetBackfill clears every backfill mark.
func (s *WatchStore) ResetBackfill(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.data {
		e.BackfilledAt = nil
		s.data[k] = e
	}
	return nil
}
