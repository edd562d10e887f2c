package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

func newEvent(addr, tx string, ts time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		Address:   addr,
		TxHash:    tx,
		AssetID:   "asset-1",
		Side:      domain.SideBuy,
		Size:      decimal.NewFromInt(10),
		Notional:  decimal.NewFromInt(5),
		Price:     decimal.RequireFromString("0.5"),
		Timestamp: ts,
	}
}

func TestActivityStore_AddNewRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	ts := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.AddNew(ctx, newEvent("0xABC", "0x01", ts)))
	err := s.AddNew(ctx, newEvent("0xabc", "0x01", ts))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Same hash on a different address is a distinct event.
	require.NoError(t, s.AddNew(ctx, newEvent("0xdef", "0x01", ts)))

	ok, err := s.ExistsByTxHash(ctx, "0xAbC", "0x01")
	require.NoError(t, err)
	assert.True(t, ok)

	evs, err := s.ListNew(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.StateNew, evs[0].State)
	assert.NotEmpty(t, evs[0].ID)
}

func TestActivityStore_ClaimAndResolve(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	ev := newEvent("0xabc", "0x01", time.Now())
	ev.ID = "ev-1"
	require.NoError(t, s.AddNew(ctx, ev))

	// Resolving an unclaimed event is not allowed.
	err := s.Resolve(ctx, "ev-1", domain.Resolution{State: domain.StateExecuted, Outcome: domain.OutcomeFilled})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	ok, err := s.TryClaim(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryClaim(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Resolve(ctx, "ev-1", domain.Resolution{State: domain.StateInFlight})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.Resolve(ctx, "ev-1", domain.Resolution{
		State:   domain.StateExecuted,
		Outcome: domain.OutcomeFilled,
		Detail:  "spent 5",
	}))

	got, err := s.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, got.State)
	assert.Equal(t, domain.OutcomeFilled, got.Outcome)
	assert.Equal(t, 1, got.Attempts)

	// Terminal states never move again.
	err = s.Resolve(ctx, "ev-1", domain.Resolution{State: domain.StateSkipped})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.TryClaim(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivityStore_ConcurrentClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	ev := newEvent("0xabc", "0x01", time.Now())
	ev.ID = "ev-1"
	require.NoError(t, s.AddNew(ctx, ev))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryClaim(ctx, "ev-1")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestActivityStore_BulkSkipUnclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	base := time.Unix(1_700_000_000, 0)
	for i := range 5 {
		require.NoError(t, s.AddNew(ctx, newEvent("0xabc", fmt.Sprintf("0x%02d", i), base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.AddNew(ctx, newEvent("0xother", "0xff", base)))

	n, err := s.BulkSkipUnclaimed(ctx, "0xABC")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	left, err := s.ListNew(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, left)

	skipped, err := s.List(ctx, domain.EventFilter{Address: "0xabc", State: domain.StateSkipped})
	require.NoError(t, err)
	require.Len(t, skipped, 5)
	for _, ev := range skipped {
		assert.Equal(t, domain.OutcomeSkipBackfill, ev.Outcome)
	}

	other, err := s.ListNew(ctx, "0xother")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestActivityStore_ListOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	base := time.Unix(1_700_000_000, 0)
	for i := range 4 {
		require.NoError(t, s.AddNew(ctx, newEvent("0xabc", fmt.Sprintf("0x%02d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	newest, err := s.List(ctx, domain.EventFilter{Address: "0xabc", ListOpts: domain.ListOpts{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "0x03", newest[0].TxHash)
	assert.Equal(t, "0x02", newest[1].TxHash)

	page2, err := s.List(ctx, domain.EventFilter{ListOpts: domain.ListOpts{Limit: 2, Offset: 2}})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "0x01", page2[0].TxHash)

	pending, err := s.ListNew(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, "0x00", pending[0].TxHash)
}

func TestActivityStore_ListResolvedBetween(t *testing.T) {
	ctx := context.Background()
	s := NewActivityStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i, id := range []string{"a", "b", "c"} {
		ev := newEvent("0xabc", fmt.Sprintf("0x%02d", i), clock)
		ev.ID = id
		require.NoError(t, s.AddNew(ctx, ev))
	}
	for _, id := range []string{"a", "b"} {
		ok, err := s.TryClaim(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.Resolve(ctx, "a", domain.Resolution{State: domain.StateSkipped, Outcome: domain.OutcomeSkipPreview}))

	from := clock.Truncate(24 * time.Hour)
	got, err := s.ListResolvedBetween(ctx, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got, err = s.ListResolvedBetween(ctx, from.Add(24*time.Hour), from.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}
