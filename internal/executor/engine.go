// Package executor claims newly ingested trade events and mirrors them on the
// operator's account.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/metrics"
	"github.com/xunboo/polymarket-copy-bot/internal/sizing"
)

// EventsChannel is the bus channel resolved events are published on.
const EventsChannel = "events"

const lockKey = "executor"

// Notifier delivers operator notifications.
type Notifier interface {
	NotifyTrade(ctx context.Context, ev domain.TradeEvent, r domain.Resolution) error
	NotifyTradingDisabled(ctx context.Context, cause error) error
}

// Config controls the execution engine.
type Config struct {
	PollInterval      time.Duration
	RetryLimit        int
	RetryBackoff      time.Duration
	SlippageTolerance decimal.Decimal
	PreviewMode       bool
	// SubmitTimeout bounds each order submission and status write. Both run
	// detached from shutdown so an outcome is always recorded.
	SubmitTimeout time.Duration
	// ProxyWallet holds the operator's collateral and positions.
	ProxyWallet string
	Sizing      sizing.Config
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	return c
}

// Engine polls the activity store for new events of backfilled addresses,
// claims each one and resolves it exactly once.
type Engine struct {
	orders domain.OrderClient
	feed   domain.Feed
	events domain.ActivityStore
	watch  domain.WatchStore
	audit  domain.AuditStore
	cfg    Config
	logger *slog.Logger

	bus      domain.EventBus
	locks    domain.LockManager
	notifier Notifier

	tradingEnabled atomic.Bool
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. Trading stays disabled until Start derives
// CLOB credentials.
func NewEngine(
	orders domain.OrderClient,
	feed domain.Feed,
	events domain.ActivityStore,
	watch domain.WatchStore,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		orders: orders,
		feed:   feed,
		events: events,
		watch:  watch,
		audit:  audit,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "executor")),
		sleep:  sleepCtx,
	}
}

// SetEventBus publishes every resolution on bus.
func (e *Engine) SetEventBus(bus domain.EventBus) { e.bus = bus }

// SetLockManager guards each pass with a distributed lock.
func (e *Engine) SetLockManager(locks domain.LockManager) { e.locks = locks }

// SetNotifier sends executed/skipped/disabled notifications.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// TradingEnabled reports whether orders can be submitted.
func (e *Engine) TradingEnabled() bool { return e.tradingEnabled.Load() }

// Start derives CLOB credentials. A failure is not fatal: the engine keeps
// resolving events as skipped so the queue never grows.
func (e *Engine) Start(ctx context.Context) {
	if _, err := e.orders.DeriveCredentials(ctx); err != nil {
		e.tradingEnabled.Store(false)
		metrics.TradingEnabled.Set(0)
		e.logger.ErrorContext(ctx, "failed to derive CLOB credentials, trading disabled",
			slog.String("error", err.Error()),
		)
		if e.notifier != nil {
			if nerr := e.notifier.NotifyTradingDisabled(ctx, err); nerr != nil {
				e.logger.WarnContext(ctx, "trading disabled notification failed",
					slog.String("error", nerr.Error()),
				)
			}
		}
		return
	}
	e.tradingEnabled.Store(true)
	metrics.TradingEnabled.Set(1)
	e.logger.InfoContext(ctx, "CLOB credentials derived, trading enabled")
}

// Run polls every PollInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started",
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Bool("preview_mode", e.cfg.PreviewMode),
		slog.Bool("trading_enabled", e.TradingEnabled()),
	)
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.WarnContext(ctx, "executor pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes every new event of every backfilled address.
func (e *Engine) RunOnce(ctx context.Context) error {
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, lockKey, e.lockTTL())
		if errors.Is(err, domain.ErrLockHeld) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("executor: acquire lock: %w", err)
		}
		defer unlock()
	}

	entries, err := e.watch.List(ctx)
	if err != nil {
		return fmt.Errorf("executor: list watch entries: %w", err)
	}

	for _, entry := range entries {
		// Unbackfilled addresses may still hold historical events.
		if !entry.Backfilled() {
			continue
		}
		pending, err := e.events.ListNew(ctx, entry.Address)
		if err != nil {
			e.logger.WarnContext(ctx, "list new events failed",
				slog.String("address", entry.Address),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, ev := range pending {
			if ctx.Err() != nil {
				return nil
			}
			e.process(ctx, ev)
		}
	}
	return nil
}

func (e *Engine) lockTTL() time.Duration {
	return max(time.Minute, time.Duration(e.cfg.RetryLimit+1)*(e.cfg.RetryBackoff+e.cfg.SubmitTimeout))
}

func (e *Engine) process(ctx context.Context, ev domain.TradeEvent) {
	log := e.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("address", ev.Address),
		slog.String("asset_id", ev.AssetID),
		slog.String("side", string(ev.Side)),
	)

	claimed, err := e.events.TryClaim(ctx, ev.ID)
	if err != nil {
		log.WarnContext(ctx, "claim failed", slog.String("error", err.Error()))
		return
	}
	if !claimed {
		return
	}

	res := e.execute(ctx, ev, log)
	e.resolve(ctx, ev, res, log)
}

// execute never panics and never returns a non-terminal resolution.
func (e *Engine) execute(ctx context.Context, ev domain.TradeEvent, log *slog.Logger) (res domain.Resolution) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic while executing trade", slog.Any("panic", r))
			res = skip(domain.OutcomeSkipError, fmt.Sprintf("panic: %v", r))
		}
	}()

	if e.cfg.PreviewMode {
		log.InfoContext(ctx, "preview mode, not trading",
			slog.String("notional", ev.Notional.String()),
			slog.String("price", ev.Price.String()),
		)
		return skip(domain.OutcomeSkipPreview, "")
	}
	if !e.TradingEnabled() {
		return skip(domain.OutcomeSkipTradingDisabled, "")
	}

	switch ev.Side {
	case domain.SideBuy:
		return e.buy(ctx, ev, log)
	case domain.SideSell:
		return e.sell(ctx, ev, log)
	case domain.SideUnknown:
		log.WarnContext(ctx, "unknown trade side")
		return skip(domain.OutcomeSkipUnknownSide, "")
	default:
		log.WarnContext(ctx, "unknown trade side")
		return skip(domain.OutcomeSkipUnknownSide, string(ev.Side))
	}
}

func (e *Engine) buy(ctx context.Context, ev domain.TradeEvent, log *slog.Logger) domain.Resolution {
	balance, err := e.orders.Balance(ctx)
	if err != nil {
		log.WarnContext(ctx, "read balance failed", slog.String("error", err.Error()))
		return skip(domain.OutcomeSkipError, "balance: "+err.Error())
	}
	pos, _, err := e.ownPosition(ctx, ev.AssetID)
	if err != nil {
		log.WarnContext(ctx, "read own position failed", slog.String("error", err.Error()))
		return skip(domain.OutcomeSkipError, "position: "+err.Error())
	}

	decision := sizing.Calculate(e.cfg.Sizing, sizing.Input{
		TraderNotional:   ev.Notional,
		Balance:          balance,
		PositionNotional: pos.Notional(),
	})
	log.InfoContext(ctx, "order sized",
		slog.String("amount", decision.Amount.StringFixed(2)),
		slog.String("reasoning", decision.Reasoning()),
	)
	if !decision.Amount.IsPositive() {
		return skip(domain.OutcomeSkipSizedZero, decision.Reasoning())
	}

	st := e.fill(ctx, ev, decision.Amount, log)
	return st.Resolution()
}

// fill drives Step against live order books until the loop finishes.
func (e *Engine) fill(ctx context.Context, ev domain.TradeEvent, amount decimal.Decimal, log *slog.Logger) FillState {
	p := FillParams{
		AssetID:           ev.AssetID,
		ObservedPrice:     ev.Price,
		SlippageTolerance: e.cfg.SlippageTolerance,
		MinOrderUSD:       e.cfg.Sizing.MinOrderUSD,
		RetryLimit:        e.cfg.RetryLimit,
	}
	st := NewFillState(amount)

	for !st.Done {
		if ctx.Err() != nil {
			return st.Finish(domain.OutcomeAbortShutdown)
		}

		book, err := e.orders.GetOrderBook(ctx, ev.AssetID)
		if err != nil {
			log.WarnContext(ctx, "read order book failed",
				slog.Int("attempt", st.Retries+1),
				slog.String("error", err.Error()),
			)
			st = e.retry(ctx, st.Failed(), p)
			continue
		}

		var act Action
		st, act = Step(st, book, p)
		if act.Kind == ActionDone {
			break
		}

		res, err := e.submit(ctx, ev, act.Order)
		if err != nil || !res.Success {
			st = e.retry(ctx, st.Failed(), p)
			continue
		}
		metrics.CopiedNotional.WithLabelValues(string(domain.OrderSideBuy)).Add(act.Spend.InexactFloat64())
		st = st.Succeeded(act.Spend)
	}

	log.InfoContext(ctx, "buy finished",
		slog.String("outcome", string(st.Outcome)),
		slog.String("spent", st.Spent.StringFixed(2)),
		slog.Int("fills", st.Fills),
	)
	return st
}

// retry finishes the loop when the limit is reached, otherwise waits the
// backoff. Cancellation during the wait ends the loop.
func (e *Engine) retry(ctx context.Context, st FillState, p FillParams) FillState {
	if st.Retries >= p.RetryLimit {
		return st.Finish(domain.OutcomeAbortRetries)
	}
	if err := e.sleep(ctx, e.cfg.RetryBackoff); err != nil {
		return st.Finish(domain.OutcomeAbortShutdown)
	}
	return st
}

func (e *Engine) sell(ctx context.Context, ev domain.TradeEvent, log *slog.Logger) domain.Resolution {
	pos, ok, err := e.ownPosition(ctx, ev.AssetID)
	if err != nil {
		log.WarnContext(ctx, "read own position failed", slog.String("error", err.Error()))
		return skip(domain.OutcomeSkipError, "position: "+err.Error())
	}
	if !ok || !pos.Size.IsPositive() {
		log.InfoContext(ctx, "no position to sell")
		return skip(domain.OutcomeSkipNoPosition, "")
	}

	book, err := e.orders.GetOrderBook(ctx, ev.AssetID)
	if err != nil {
		log.WarnContext(ctx, "read order book failed", slog.String("error", err.Error()))
		return skip(domain.OutcomeSkipError, "order book: "+err.Error())
	}
	bid, ok := book.BestBid()
	if !ok {
		return skip(domain.OutcomeAbortNoLiquidity, "")
	}

	size := decimal.Min(pos.Size, bid.Size)
	res, err := e.submit(ctx, ev, domain.OrderRequest{
		AssetID: ev.AssetID,
		Side:    domain.OrderSideSell,
		Size:    size,
		Price:   bid.Price,
		Type:    domain.OrderTypeFOK,
	})
	if err != nil || !res.Success {
		detail := res.Message
		if err != nil {
			detail = err.Error()
		}
		return skip(domain.OutcomeSellRejected, detail)
	}

	proceeds := size.Mul(bid.Price)
	metrics.CopiedNotional.WithLabelValues(string(domain.OrderSideSell)).Add(proceeds.InexactFloat64())
	return domain.Resolution{
		State:   domain.StateExecuted,
		Outcome: domain.OutcomeSold,
		Detail:  fmt.Sprintf("sold %s @ %s (order %s)", size.String(), bid.Price.String(), res.OrderID),
		Spent:   proceeds,
	}
}

// ownPosition reads the operator's live holding in assetID.
func (e *Engine) ownPosition(ctx context.Context, assetID string) (domain.PositionSnapshot, bool, error) {
	positions, err := e.feed.GetPositions(ctx, e.cfg.ProxyWallet)
	if err != nil {
		return domain.PositionSnapshot{}, false, err
	}
	for _, p := range positions {
		if p.AssetID == assetID {
			return p, true, nil
		}
	}
	return domain.PositionSnapshot{}, false, nil
}

// submit posts one order detached from cancellation and audits the attempt.
func (e *Engine) submit(ctx context.Context, ev domain.TradeEvent, req domain.OrderRequest) (domain.OrderResult, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.orders.PostOrder(sctx, req)
	metrics.OrderLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())

	result := "filled"
	detail := map[string]any{
		"event_id": ev.ID,
		"address":  ev.Address,
		"asset_id": req.AssetID,
		"side":     string(req.Side),
		"size":     req.Size.String(),
		"price":    req.Price.String(),
		"type":     string(req.Type),
		"order_id": res.OrderID,
		"status":   res.Status,
		"success":  err == nil && res.Success,
	}
	switch {
	case err != nil:
		result = "error"
		detail["error"] = err.Error()
		e.logger.WarnContext(ctx, "order submission failed",
			slog.String("event_id", ev.ID),
			slog.String("side", string(req.Side)),
			slog.String("error", err.Error()),
		)
	case !res.Success:
		result = "rejected"
		detail["message"] = res.Message
		e.logger.WarnContext(ctx, "order rejected",
			slog.String("event_id", ev.ID),
			slog.String("side", string(req.Side)),
			slog.String("message", res.Message),
		)
	default:
		e.logger.InfoContext(ctx, "order filled",
			slog.String("event_id", ev.ID),
			slog.String("order_id", res.OrderID),
			slog.String("side", string(req.Side)),
			slog.String("size", req.Size.String()),
			slog.String("price", req.Price.String()),
		)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(req.Side), result).Inc()

	if aerr := e.audit.Log(sctx, domain.AuditOrderSubmitted, detail); aerr != nil {
		e.logger.WarnContext(ctx, "audit order failed", slog.String("error", aerr.Error()))
	}
	return res, err
}

// resolve records the terminal state and fans it out.
func (e *Engine) resolve(ctx context.Context, ev domain.TradeEvent, r domain.Resolution, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
	defer cancel()

	metrics.EventsResolved.WithLabelValues(string(r.State), string(r.Outcome)).Inc()

	if err := e.events.Resolve(rctx, ev.ID, r); err != nil {
		// Orders may already be on the book; make the gap visible.
		log.ErrorContext(ctx, "resolve failed",
			slog.String("state", string(r.State)),
			slog.String("outcome", string(r.Outcome)),
			slog.String("detail", r.Detail),
			slog.String("error", err.Error()),
		)
		if aerr := e.audit.Log(rctx, domain.AuditResolveFailed, map[string]any{
			"event_id": ev.ID,
			"state":    string(r.State),
			"outcome":  string(r.Outcome),
			"detail":   r.Detail,
			"error":    err.Error(),
		}); aerr != nil {
			log.WarnContext(ctx, "audit resolve failure failed", slog.String("error", aerr.Error()))
		}
		return
	}

	log.InfoContext(ctx, "event resolved",
		slog.String("state", string(r.State)),
		slog.String("outcome", string(r.Outcome)),
		slog.String("detail", r.Detail),
	)

	ev.State = r.State
	ev.Outcome = r.Outcome
	ev.Detail = r.Detail
	ev.Attempts++
	ev.UpdatedAt = time.Now().UTC()

	if e.bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := e.bus.Publish(rctx, EventsChannel, payload); err != nil {
				log.WarnContext(ctx, "publish resolution failed", slog.String("error", err.Error()))
			}
		}
	}

	if e.notifier != nil {
		if err := e.notifier.NotifyTrade(rctx, ev, r); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func skip(outcome domain.ExecutionOutcome, detail string) domain.Resolution {
	return domain.Resolution{State: domain.StateSkipped, Outcome: outcome, Detail: detail}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
