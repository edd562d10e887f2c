package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]domain.PositionSnapshot // address|asset|condition
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[string]domain.PositionSnapshot)}
}

// Upsert overwrites the snapshot for (address, asset, condition).
func (s *PositionStore) Upsert(_ context.Context, p domain.PositionSnapshot) error {
	p.Address = domain.NormalizeAddress(p.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.Address+"|"+p.AssetID+"|"+p.ConditionID] = p
	return nil
}

// List returns the address's snapshots ordered by asset. An empty address lists all.
func (s *PositionStore) List(_ context.Context, address string) ([]domain.PositionSnapshot, error) {
	addr := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PositionSnapshot
	for _, p := range s.data {
		if addr == "" || p.Address == addr {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].ConditionID < out[j].ConditionID
	})
	return out, nil
}
