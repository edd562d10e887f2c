package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/sizing"
	"github.com/xunboo/polymarket-copy-bot/internal/store/memory"
)

const (
	trader = "0xtrader"
	proxy  = "0xproxy"
)

type fakeOrders struct {
	mu         sync.Mutex
	deriveErr  error
	book       domain.OrderBook
	bookErr    error
	panicBook  bool
	postErr    error
	postResult *domain.OrderResult
	balance    decimal.Decimal
	bookCalls  int
	posts      []domain.OrderRequest
	// onPost runs inside PostOrder; postCtxErr records the submit context
	// state after it returns.
	onPost     func()
	postCtxErr []error
}

func (f *fakeOrders) DeriveCredentials(context.Context) (domain.Credentials, error) {
	if f.deriveErr != nil {
		return domain.Credentials{}, f.deriveErr
	}
	return domain.Credentials{APIKey: "key"}, nil
}

func (f *fakeOrders) GetOrderBook(_ context.Context, _ string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	if f.panicBook {
		panic("boom")
	}
	return f.book, f.bookErr
}

func (f *fakeOrders) PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, req)
	if f.onPost != nil {
		f.onPost()
	}
	f.postCtxErr = append(f.postCtxErr, ctx.Err())
	if f.postErr != nil {
		return domain.OrderResult{}, f.postErr
	}
	if f.postResult != nil {
		return *f.postResult, nil
	}
	return domain.OrderResult{Success: true, OrderID: "order-1", Status: "matched"}, nil
}

func (f *fakeOrders) Balance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

type fakeFeed struct {
	positions map[string][]domain.PositionSnapshot
}

func (f *fakeFeed) GetActivity(context.Context, string, string, int) ([]domain.TradeEvent, error) {
	return nil, nil
}

func (f *fakeFeed) GetPositions(_ context.Context, address string) ([]domain.PositionSnapshot, error) {
	return f.positions[address], nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type fakeNotifier struct {
	events []string
	spent  []decimal.Decimal
}

func (n *fakeNotifier) NotifyTrade(_ context.Context, _ domain.TradeEvent, r domain.Resolution) error {
	n.events = append(n.events, string(r.State))
	n.spent = append(n.spent, r.Spent)
	return nil
}

func (n *fakeNotifier) NotifyTradingDisabled(context.Context, error) error {
	n.events = append(n.events, "trading_disabled")
	return nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type harness struct {
	orders   *fakeOrders
	feed     *fakeFeed
	events   *memory.ActivityStore
	watch    *memory.WatchStore
	audit    *memory.AuditStore
	bus      *fakeBus
	notifier *fakeNotifier
	engine   *Engine
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		orders: &fakeOrders{
			balance: decimal.NewFromInt(1000),
			book: domain.OrderBook{
				AssetID: "asset",
				Asks:    []domain.BookLevel{{Price: d("0.50"), Size: d("16")}},
				Bids:    []domain.BookLevel{{Price: d("0.60"), Size: d("4")}},
			},
		},
		feed:     &fakeFeed{positions: map[string][]domain.PositionSnapshot{}},
		events:   memory.NewActivityStore(),
		watch:    memory.NewWatchStore(),
		audit:    memory.NewAuditStore(),
		bus:      &fakeBus{},
		notifier: &fakeNotifier{},
	}
	require.NoError(t, h.watch.Add(ctx, domain.WatchEntry{Address: trader}))
	require.NoError(t, h.watch.MarkBackfilled(ctx, trader, time.Now()))

	cfg := Config{
		PollInterval:      10 * time.Millisecond,
		RetryLimit:        3,
		RetryBackoff:      time.Millisecond,
		SlippageTolerance: d("0.05"),
		SubmitTimeout:     time.Second,
		ProxyWallet:       proxy,
		Sizing: sizing.Config{
			Strategy:    sizing.StrategyPercentage,
			CopySize:    d("10"),
			MinOrderUSD: d("1"),
			MaxOrderUSD: d("100"),
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(h.orders, h.feed, h.events, h.watch, h.audit, cfg, logger)
	h.engine.SetEventBus(h.bus)
	h.engine.SetNotifier(h.notifier)
	h.engine.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return h
}

func (h *harness) addEvent(t *testing.T, id string, side domain.TradeSide, notional string) {
	t.Helper()
	require.NoError(t, h.events.AddNew(context.Background(), domain.TradeEvent{
		ID:        id,
		Address:   trader,
		TxHash:    "0x" + id,
		AssetID:   "asset",
		Side:      side,
		Notional:  d(notional),
		Price:     d("0.50"),
		Size:      d(notional).Div(d("0.50")),
		Timestamp: time.Now(),
	}))
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.engine.Start(ctx)
	require.NoError(t, h.engine.RunOnce(ctx))
}

func (h *harness) event(t *testing.T, id string) domain.TradeEvent {
	t.Helper()
	ev, err := h.events.Get(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func TestEngine_BuyFillsAcrossPasses(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "buy", domain.SideBuy, "200") // 10% -> 20 USDC

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateExecuted, ev.State)
	assert.Equal(t, domain.OutcomeFilled, ev.Outcome)
	require.Len(t, h.orders.posts, 3)
	assert.True(t, h.orders.posts[0].Size.Equal(d("16")))
	assert.True(t, h.orders.posts[2].Size.Equal(d("8")))

	audits, err := h.audit.List(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, audits, 3)

	require.Len(t, h.bus.messages, 1)
	var published domain.TradeEvent
	require.NoError(t, json.Unmarshal(h.bus.messages[0], &published))
	assert.Equal(t, domain.StateExecuted, published.State)
	assert.Equal(t, []string{string(domain.StateExecuted)}, h.notifier.events)
	require.Len(t, h.notifier.spent, 1)
	assert.True(t, h.notifier.spent[0].IsPositive())
	assert.True(t, h.notifier.spent[0].LessThanOrEqual(d("20")))

	// A second pass finds nothing to do.
	require.NoError(t, h.engine.RunOnce(context.Background()))
	assert.Len(t, h.orders.posts, 3)
}

func TestEngine_BuyRetriesExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.postErr = errors.New("order rejected: not enough liquidity")
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeAbortRetries, ev.Outcome)
	assert.Len(t, h.orders.posts, 3)
}

func TestEngine_BuyBookErrorsCountAsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.bookErr = errors.New("timeout")
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeAbortRetries, ev.Outcome)
	assert.Equal(t, 3, h.orders.bookCalls)
	assert.Empty(t, h.orders.posts)
}

func TestEngine_BuySlippage(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.book.Asks = []domain.BookLevel{{Price: d("0.70"), Size: d("100")}}
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeAbortSlippage, ev.Outcome)
	assert.Empty(t, h.orders.posts)
}

func TestEngine_BuySizedToZero(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "buy", domain.SideBuy, "5") // 10% -> 0.5, below minimum

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipSizedZero, ev.Outcome)
	assert.NotEmpty(t, ev.Detail)
	assert.Zero(t, h.orders.bookCalls)
}

func TestEngine_SellWithoutPositionTouchesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "sell", domain.SideSell, "10")

	h.run(t)

	ev := h.event(t, "sell")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipNoPosition, ev.Outcome)
	assert.Zero(t, h.orders.bookCalls)
	assert.Empty(t, h.orders.posts)
}

func TestEngine_SellAtBestBid(t *testing.T) {
	h := newHarness(t, nil)
	h.feed.positions[proxy] = []domain.PositionSnapshot{{AssetID: "asset", Size: d("10")}}
	h.addEvent(t, "sell", domain.SideSell, "10")

	h.run(t)

	ev := h.event(t, "sell")
	assert.Equal(t, domain.StateExecuted, ev.State)
	assert.Equal(t, domain.OutcomeSold, ev.Outcome)
	require.Len(t, h.orders.posts, 1)
	assert.Equal(t, domain.OrderSideSell, h.orders.posts[0].Side)
	assert.True(t, h.orders.posts[0].Size.Equal(d("4")))
	assert.True(t, h.orders.posts[0].Price.Equal(d("0.60")))
}

func TestEngine_SellRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.feed.positions[proxy] = []domain.PositionSnapshot{{AssetID: "asset", Size: d("10")}}
	h.orders.postResult = &domain.OrderResult{Success: false, Message: "not filled"}
	h.addEvent(t, "sell", domain.SideSell, "10")

	h.run(t)

	ev := h.event(t, "sell")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSellRejected, ev.Outcome)
	assert.Equal(t, "not filled", ev.Detail)
}

func TestEngine_PreviewMode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PreviewMode = true })
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipPreview, ev.Outcome)
	assert.Zero(t, h.orders.bookCalls)
}

func TestEngine_TradingDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.deriveErr = errors.New("401 unauthorized")
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	assert.False(t, h.engine.TradingEnabled())
	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipTradingDisabled, ev.Outcome)
	assert.Empty(t, h.orders.posts)
	assert.Equal(t, []string{"trading_disabled", string(domain.StateSkipped)}, h.notifier.events)
}

func TestEngine_UnknownSide(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "odd", domain.SideUnknown, "10")

	h.run(t)

	ev := h.event(t, "odd")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipUnknownSide, ev.Outcome)
}

func TestEngine_PanicResolvesSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.panicBook = true
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeSkipError, ev.Outcome)
}

func TestEngine_IgnoresUnbackfilledAddresses(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.watch.ResetBackfill(context.Background()))
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	assert.Equal(t, domain.StateNew, h.event(t, "buy").State)
}

func TestEngine_SkipsPassWhenLockHeld(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetLockManager(heldLock{})
	h.addEvent(t, "buy", domain.SideBuy, "200")

	h.run(t)

	assert.Equal(t, domain.StateNew, h.event(t, "buy").State)
}

func TestEngine_ClaimedEventIsNotReprocessed(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "buy", domain.SideBuy, "200")
	ok, err := h.events.TryClaim(context.Background(), "buy")
	require.NoError(t, err)
	require.True(t, ok)

	h.run(t)

	assert.Equal(t, domain.StateInFlight, h.event(t, "buy").State)
	assert.Empty(t, h.orders.posts)
}

type failingResolveStore struct {
	*memory.ActivityStore
}

func (failingResolveStore) Resolve(context.Context, string, domain.Resolution) error {
	return errors.New("connection reset")
}

func TestEngine_ResolveFailureIsAudited(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "buy", domain.SideBuy, "200")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(h.orders, h.feed, failingResolveStore{h.events}, h.watch, h.audit, h.engine.cfg, logger)
	engine.SetEventBus(h.bus)
	engine.sleep = h.engine.sleep
	engine.Start(context.Background())
	require.NoError(t, engine.RunOnce(context.Background()))

	require.Len(t, h.orders.posts, 3)
	audits, err := h.audit.List(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	var failed []domain.AuditEntry
	for _, a := range audits {
		if a.Event == domain.AuditResolveFailed {
			failed = append(failed, a)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "buy", failed[0].Detail["event_id"])
	assert.Empty(t, h.bus.messages)
}

func TestEngine_ShutdownDuringSubmitFinishesOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.addEvent(t, "buy", domain.SideBuy, "200") // 20 USDC, first level covers 8

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orders.onPost = cancel

	h.engine.Start(context.Background())
	require.NoError(t, h.engine.RunOnce(ctx))

	require.Len(t, h.orders.posts, 1)
	assert.NoError(t, h.orders.postCtxErr[0], "submission must not see the shutdown")

	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateExecuted, ev.State)
	assert.Equal(t, domain.OutcomeAbortShutdown, ev.Outcome)
	assert.Contains(t, ev.Detail, "1 fill(s)")
	assert.Equal(t, []string{string(domain.StateExecuted)}, h.notifier.events)
}

func TestEngine_ShutdownDuringBackoffSkips(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RetryBackoff = time.Hour })
	h.orders.postErr = errors.New("order rejected")
	h.engine.sleep = sleepCtx
	h.addEvent(t, "buy", domain.SideBuy, "200")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	posted := make(chan struct{}, 1)
	h.orders.onPost = func() { posted <- struct{}{} }
	go func() {
		<-posted
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	h.engine.Start(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.RunOnce(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine kept waiting after shutdown")
	}

	require.Len(t, h.orders.posts, 1)
	ev := h.event(t, "buy")
	assert.Equal(t, domain.StateSkipped, ev.State)
	assert.Equal(t, domain.OutcomeAbortShutdown, ev.Outcome)
	assert.NotEqual(t, domain.StateInFlight, ev.State)
}
