package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventFilter narrows TradeEvent queries.
type EventFilter struct {
	Address string
	State   EventState
	ListOpts
}

// ActivityStore persists TradeEvents and their processing state.
type ActivityStore interface {
	// AddNew inserts an event in state new. Returns ErrAlreadyExists when
	// (Address, TxHash) is already stored.
	AddNew(ctx context.Context, ev TradeEvent) error
	// TryClaim moves an event from new to in_flight. Exactly one concurrent
	// caller observes true.
	TryClaim(ctx context.Context, id string) (bool, error)
	// Resolve moves an in_flight event to a terminal state.
	Resolve(ctx context.Context, id string, r Resolution) error
	ExistsByTxHash(ctx context.Context, address, txHash string) (bool, error)
	ListNew(ctx context.Context, address string) ([]TradeEvent, error)
	// BulkSkipUnclaimed marks every new event of address skipped.
	BulkSkipUnclaimed(ctx context.Context, address string) (int64, error)
	Get(ctx context.Context, id string) (TradeEvent, error)
	List(ctx context.Context, filter EventFilter) ([]TradeEvent, error)
	ListResolvedBetween(ctx context.Context, from, to time.Time) ([]TradeEvent, error)
}

// PositionStore persists the latest position snapshot per address and asset.
type PositionStore interface {
	Upsert(ctx context.Context, pos PositionSnapshot) error
	List(ctx context.Context, address string) ([]PositionSnapshot, error)
}

// WatchStore persists the set of watched addresses.
type WatchStore interface {
	// Add is a no-op when the address is already watched.
	Add(ctx context.Context, entry WatchEntry) error
	Remove(ctx context.Context, address string) error
	Get(ctx context.Context, address string) (WatchEntry, error)
	List(ctx context.Context) ([]WatchEntry, error)
	MarkBackfilled(ctx context.Context, address string, at time.Time) error
	ResetBackfill(ctx context.Context) error
}
