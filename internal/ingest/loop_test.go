package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/store/memory"
)

type fakeFeed struct {
	mu          sync.Mutex
	activity    map[string][]domain.TradeEvent
	positions   map[string][]domain.PositionSnapshot
	activityErr map[string]error
	calls       map[string]int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		activity:    make(map[string][]domain.TradeEvent),
		positions:   make(map[string][]domain.PositionSnapshot),
		activityErr: make(map[string]error),
		calls:       make(map[string]int),
	}
}

func (f *fakeFeed) GetActivity(_ context.Context, address, kind string, _ int) ([]domain.TradeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if kind != ActivityKindTrade {
		return nil, fmt.Errorf("unexpected kind %q", kind)
	}
	if err := f.activityErr[address]; err != nil {
		return nil, err
	}
	return append([]domain.TradeEvent(nil), f.activity[address]...), nil
}

func (f *fakeFeed) GetPositions(_ context.Context, address string) ([]domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[address], nil
}

func (f *fakeFeed) push(address string, evs ...domain.TradeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[address] = append(f.activity[address], evs...)
}

func trade(address, tx string, ts time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		Address:   address,
		TxHash:    tx,
		AssetID:   "asset",
		Side:      domain.SideBuy,
		Size:      decimal.NewFromInt(10),
		Notional:  decimal.NewFromInt(5),
		Price:     decimal.RequireFromString("0.5"),
		Timestamp: ts,
	}
}

type fixture struct {
	feed      *fakeFeed
	events    *memory.ActivityStore
	positions *memory.PositionStore
	watch     *memory.WatchStore
	loop      *Loop
}

func newFixture(t *testing.T, cfg Config, addrs ...string) *fixture {
	t.Helper()
	f := &fixture{
		feed:      newFakeFeed(),
		events:    memory.NewActivityStore(),
		positions: memory.NewPositionStore(),
		watch:     memory.NewWatchStore(),
	}
	for _, a := range addrs {
		require.NoError(t, f.watch.Add(context.Background(), domain.WatchEntry{Address: a}))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.loop = NewLoop(f.feed, f.events, f.positions, f.watch, cfg, logger)
	return f
}

func TestLoop_IngestionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, "0xaaa")
	now := time.Now()

	// First sight backfills, so mark the address as already backfilled.
	require.NoError(t, f.watch.MarkBackfilled(ctx, "0xaaa", now))
	f.feed.push("0xaaa", trade("0xaaa", "0x1", now), trade("0xaaa", "0x2", now))

	for range 3 {
		require.NoError(t, f.loop.RunOnce(ctx))
	}

	evs, err := f.events.List(ctx, domain.EventFilter{Address: "0xaaa"})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, domain.StateNew, ev.State)
		assert.Equal(t, 0, ev.Attempts)
	}

	// A fresh loop without the warm dedup cache still stores nothing twice.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	again := NewLoop(f.feed, f.events, f.positions, f.watch, Config{}, logger)
	require.NoError(t, again.RunOnce(ctx))
	evs, err = f.events.List(ctx, domain.EventFilter{Address: "0xaaa"})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestLoop_BackfillSkipsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, "0xaaa")
	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		f.feed.push("0xaaa", trade("0xaaa", fmt.Sprintf("0x%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	require.NoError(t, f.loop.RunOnce(ctx))

	skipped, err := f.events.List(ctx, domain.EventFilter{Address: "0xaaa", State: domain.StateSkipped})
	require.NoError(t, err)
	assert.Len(t, skipped, 5)
	pending, err := f.events.ListNew(ctx, "0xaaa")
	require.NoError(t, err)
	assert.Empty(t, pending)

	entry, err := f.watch.Get(ctx, "0xaaa")
	require.NoError(t, err)
	assert.True(t, entry.Backfilled())

	// A trade after backfill stays new.
	f.feed.push("0xaaa", trade("0xaaa", "0xnew", time.Now()))
	require.NoError(t, f.loop.RunOnce(ctx))
	pending, err = f.events.ListNew(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xnew", pending[0].TxHash)
}

func TestLoop_FeedErrorIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Concurrency: 2}, "0xbad", "0xgood")
	f.feed.activityErr["0xbad"] = errors.New("connection reset")
	f.feed.push("0xbad", trade("0xbad", "0xb1", time.Now()))
	f.feed.push("0xgood", trade("0xgood", "0xg1", time.Now()))
	f.feed.positions["0xgood"] = []domain.PositionSnapshot{{AssetID: "asset", Size: decimal.NewFromInt(3)}}

	require.NoError(t, f.loop.RunOnce(ctx))

	good, err := f.events.List(ctx, domain.EventFilter{Address: "0xgood"})
	require.NoError(t, err)
	assert.Len(t, good, 1)

	bad, err := f.events.List(ctx, domain.EventFilter{Address: "0xbad"})
	require.NoError(t, err)
	assert.Empty(t, bad)

	// The failing address is not marked backfilled, so its history is
	// still skipped once the feed recovers.
	entry, err := f.watch.Get(ctx, "0xbad")
	require.NoError(t, err)
	assert.False(t, entry.Backfilled())

	positions, err := f.positions.List(ctx, "0xgood")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "0xgood", positions[0].Address)
}

func TestLoop_DropsTooOldActivity(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, Config{TooOldTimestamp: cutoff.Unix()}, "0xaaa")
	require.NoError(t, f.watch.MarkBackfilled(ctx, "0xaaa", time.Now()))

	f.feed.push("0xaaa",
		trade("0xaaa", "0xold", cutoff.Add(-time.Second)),
		trade("0xaaa", "0xedge", cutoff),
		trade("0xaaa", "0xnew", cutoff.Add(time.Hour)),
	)
	require.NoError(t, f.loop.RunOnce(ctx))

	evs, err := f.events.ListNew(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "0xedge", evs[0].TxHash)
	assert.Equal(t, "0xnew", evs[1].TxHash)
}

func TestLoop_RunResetsBackfillOnStartup(t *testing.T) {
	f := newFixture(t, Config{BackfillOnStartup: true, FetchInterval: time.Hour}, "0xaaa")
	require.NoError(t, f.watch.MarkBackfilled(context.Background(), "0xaaa", time.Now()))
	f.feed.push("0xaaa", trade("0xaaa", "0x1", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		evs, _ := f.events.List(context.Background(), domain.EventFilter{State: domain.StateSkipped})
		return len(evs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_PrepareClearsMarksOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BackfillOnStartup: true}, "0xaaa")
	require.NoError(t, f.watch.MarkBackfilled(ctx, "0xaaa", time.Now()))

	require.NoError(t, f.loop.Prepare(ctx))
	entries, err := f.watch.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Backfilled())

	// A later Prepare (as Run does) must not undo a completed backfill.
	require.NoError(t, f.watch.MarkBackfilled(ctx, "0xaaa", time.Now()))
	require.NoError(t, f.loop.Prepare(ctx))
	entries, err = f.watch.List(ctx)
	require.NoError(t, err)
	assert.True(t, entries[0].Backfilled())
}

func TestLoop_PrepareKeepsMarksWithoutStartupBackfill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, "0xaaa")
	require.NoError(t, f.watch.MarkBackfilled(ctx, "0xaaa", time.Now()))

	require.NoError(t, f.loop.Prepare(ctx))
	entries, err := f.watch.List(ctx)
	require.NoError(t, err)
	assert.True(t, entries[0].Backfilled())
}

func TestLoop_RunOnceReportsCancellation(t *testing.T) {
	f := newFixture(t, Config{}, "0xaaa")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.loop.RunOnce(ctx), context.Canceled)
}

func TestDedup_Expiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	assert.False(t, d.Contains("k"))
	d.Remember("k")
	assert.True(t, d.Contains("k"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.Contains("k"))
	d.Cleanup()
	assert.Equal(t, 0, d.Len())
}
