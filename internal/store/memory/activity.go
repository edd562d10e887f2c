// Package memory implements the domain stores in process memory. It backs
// deployments without PostgreSQL and doubles as a fake in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// ActivityStore is an in-memory domain.ActivityStore. A single mutex makes
// TryClaim a compare-and-swap on the event state.
type ActivityStore struct {
	mu     sync.RWMutex
	events map[string]*domain.TradeEvent // keyed by ID
	byHash map[string]string             // address|txHash -> ID
	now    func() time.Time
}

var _ domain.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates an empty store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		events: make(map[string]*domain.TradeEvent),
		byHash: make(map[string]string),
		now:    time.Now,
	}
}

func hashKey(address, txHash string) string {
	return domain.NormalizeAddress(address) + "|" + txHash
}

// AddNew stores ev in state new. The ID is generated when empty.
func (s *ActivityStore) AddNew(_ context.Context, ev domain.TradeEvent) error {
	if ev.Address == "" || ev.TxHash == "" {
		return fmt.Errorf("memory: add event: address and tx hash are required")
	}
	ev.Address = domain.NormalizeAddress(ev.Address)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashKey(ev.Address, ev.TxHash)
	if _, ok := s.byHash[key]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.events[ev.ID]; ok {
		return domain.ErrAlreadyExists
	}

	now := s.now().UTC()
	ev.State = domain.StateNew
	ev.Attempts = 0
	ev.Outcome = ""
	ev.Detail = ""
	ev.CreatedAt = now
	ev.UpdatedAt = now

	s.events[ev.ID] = &ev
	s.byHash[key] = ev.ID
	return nil
}

// TryClaim moves the event from new to in_flight; false means another pass owns it
// or it is already resolved.
func (s *ActivityStore) TryClaim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if ev.State != domain.StateNew {
		return false, nil
	}
	ev.State = domain.StateInFlight
	ev.Attempts++
	ev.UpdatedAt = s.now().UTC()
	return true, nil
}

// Resolve writes the terminal state of a claimed event.
func (s *ActivityStore) Resolve(_ context.Context, id string, r domain.Resolution) error {
	if !r.State.Terminal() {
		return fmt.Errorf("memory: resolve %s to %q: %w", id, r.State, domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if ev.State != domain.StateInFlight {
		return fmt.Errorf("memory: resolve %s from %q: %w", id, ev.State, domain.ErrInvalidTransition)
	}
	ev.State = r.State
	ev.Outcome = r.Outcome
	ev.Detail = r.Detail
	ev.UpdatedAt = s.now().UTC()
	return nil
}

// ExistsByTxHash reports whether the address already has an event for txHash.
func (s *ActivityStore) ExistsByTxHash(_ context.Context, address, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byHash[hashKey(address, txHash)]
	return ok, nil
}

// ListNew returns the address's new events, oldest first.
func (s *ActivityStore) ListNew(_ context.Context, address string) ([]domain.TradeEvent, error) {
	return s.collect(func(ev *domain.TradeEvent) bool {
		return ev.State == domain.StateNew && ev.Address == domain.NormalizeAddress(address)
	}, true), nil
}

// BulkSkipUnclaimed marks every new event of address skipped.
func (s *ActivityStore) BulkSkipUnclaimed(_ context.Context, address string) (int64, error) {
	addr := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now().UTC()
	for _, ev := range s.events {
		if ev.Address == addr && ev.State == domain.StateNew {
			ev.State = domain.StateSkipped
			ev.Outcome = domain.OutcomeSkipBackfill
			ev.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Get returns one event by ID.
func (s *ActivityStore) Get(_ context.Context, id string) (domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return domain.TradeEvent{}, domain.ErrNotFound
	}
	return *ev, nil
}

// List returns events matching filter, newest first.
func (s *ActivityStore) List(_ context.Context, f domain.EventFilter) ([]domain.TradeEvent, error) {
	addr := domain.NormalizeAddress(f.Address)
	out := s.collect(func(ev *domain.TradeEvent) bool {
		if addr != "" && ev.Address != addr {
			return false
		}
		if f.State != "" && ev.State != f.State {
			return false
		}
		if f.Since != nil && ev.Timestamp.Before(*f.Since) {
			return false
		}
		if f.Until != nil && !ev.Timestamp.Before(*f.Until) {
			return false
		}
		return true
	}, false)
	return paginate(out, f.ListOpts), nil
}

// ListResolvedBetween returns terminal events last updated within [from, to).
func (s *ActivityStore) ListResolvedBetween(_ context.Context, from, to time.Time) ([]domain.TradeEvent, error) {
	return s.collect(func(ev *domain.TradeEvent) bool {
		return ev.State.Terminal() && !ev.UpdatedAt.Before(from) && ev.UpdatedAt.Before(to)
	}, true), nil
}

func (s *ActivityStore) collect(keep func(*domain.TradeEvent) bool, ascending bool) []domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeEvent
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		if ascending {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// paginate applies Offset/Limit; a zero limit means everything.
func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
