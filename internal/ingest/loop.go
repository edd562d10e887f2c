// Package ingest discovers new trades of watched addresses and records them
// exactly once, together with the addresses' current positions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/metrics"
)

// ActivityKindTrade is the activity type requested from the feed.
const ActivityKindTrade = "TRADE"

// Config controls the ingestion loop.
type Config struct {
	FetchInterval time.Duration
	// TooOldTimestamp drops activity older than this unix time; 0 disables.
	TooOldTimestamp   int64
	PageSize          int
	Concurrency       int
	BackfillOnStartup bool
	DedupTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchInterval <= 0 {
		c.FetchInterval = time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	return c
}

// Loop polls the feed for every watched address.
type Loop struct {
	feed      domain.Feed
	events    domain.ActivityStore
	positions domain.PositionStore
	watch     domain.WatchStore
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	prepared  bool
}

// NewLoop creates an ingestion Loop.
func NewLoop(
	feed domain.Feed,
	events domain.ActivityStore,
	positions domain.PositionStore,
	watch domain.WatchStore,
	cfg Config,
	logger *slog.Logger,
) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		feed:      feed,
		events:    events,
		positions: positions,
		watch:     watch,
		dedup:     NewDedup(cfg.DedupTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "ingest")),
		now:       time.Now,
	}
}

// Prepare clears every backfill mark when BackfillOnStartup is set. It must
// complete before the execution engine starts scanning, so callers run it
// synchronously ahead of both loops. Run calls it when nobody else did.
func (l *Loop) Prepare(ctx context.Context) error {
	if l.prepared {
		return nil
	}
	if l.cfg.BackfillOnStartup {
		if err := l.watch.ResetBackfill(ctx); err != nil {
			return fmt.Errorf("ingest: reset backfill: %w", err)
		}
	}
	l.prepared = true
	return nil
}

// Run executes a cycle immediately and then every FetchInterval until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Prepare(ctx); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "ingestion loop started",
		slog.Duration("interval", l.cfg.FetchInterval),
		slog.Int("concurrency", l.cfg.Concurrency),
		slog.Bool("backfill_on_startup", l.cfg.BackfillOnStartup),
	)

	ticker := time.NewTicker(l.cfg.FetchInterval)
	defer ticker.Stop()

	for {
		if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.WarnContext(ctx, "ingestion cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("ingestion loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one cycle over the whole watch-list. Per-address failures
// are logged and do not fail the cycle; only cancellation does.
func (l *Loop) RunOnce(ctx context.Context) error {
	start := l.now()
	defer func() { metrics.IngestCycleDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := l.watch.List(ctx)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("watchlist").Inc()
		return fmt.Errorf("ingest: list watch entries: %w", err)
	}
	metrics.WatchedAddresses.Set(float64(len(entries)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			l.ingestAddress(gctx, entry)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingest: cycle interrupted: %w", err)
	}

	l.dedup.Cleanup()
	return nil
}

func (l *Loop) ingestAddress(ctx context.Context, entry domain.WatchEntry) {
	addr := domain.NormalizeAddress(entry.Address)
	log := l.logger.With(slog.String("address", addr))

	complete, err := l.ingestActivity(ctx, addr)
	if err != nil {
		if ctx.Err() == nil {
			log.WarnContext(ctx, "fetch activity failed", slog.String("error", err.Error()))
		}
		metrics.IngestErrors.WithLabelValues("activity").Inc()
		return
	}

	// Historical trades are never copied: on first sight everything stored
	// so far is skipped before the executor may look at this address.
	if !entry.Backfilled() && complete {
		n, err := l.events.BulkSkipUnclaimed(ctx, addr)
		if err != nil {
			log.WarnContext(ctx, "backfill skip failed", slog.String("error", err.Error()))
			metrics.IngestErrors.WithLabelValues("backfill").Inc()
		} else if err := l.watch.MarkBackfilled(ctx, addr, l.now()); err != nil {
			log.WarnContext(ctx, "mark backfilled failed", slog.String("error", err.Error()))
			metrics.IngestErrors.WithLabelValues("backfill").Inc()
		} else {
			metrics.EventsBackfilled.Add(float64(n))
			log.InfoContext(ctx, "address backfilled", slog.Int64("skipped", n))
		}
	}

	if err := l.ingestPositions(ctx, addr); err != nil {
		if ctx.Err() == nil {
			log.WarnContext(ctx, "refresh positions failed", slog.String("error", err.Error()))
		}
		metrics.IngestErrors.WithLabelValues("positions").Inc()
	}
}

// ingestActivity stores unseen trades. complete is false when any trade could
// not be stored, in which case the address must not be marked backfilled.
func (l *Loop) ingestActivity(ctx context.Context, addr string) (complete bool, err error) {
	trades, err := l.feed.GetActivity(ctx, addr, ActivityKindTrade, l.cfg.PageSize)
	if err != nil {
		return false, err
	}

	complete = true
	added := 0
	for _, ev := range trades {
		if ev.TxHash == "" {
			continue
		}
		if l.cfg.TooOldTimestamp > 0 && ev.Timestamp.Unix() < l.cfg.TooOldTimestamp {
			continue
		}
		ev.Address = addr
		key := addr + "|" + ev.TxHash
		if l.dedup.Contains(key) {
			continue
		}

		exists, err := l.events.ExistsByTxHash(ctx, addr, ev.TxHash)
		if err != nil {
			complete = false
			l.logger.WarnContext(ctx, "dedup lookup failed",
				slog.String("address", addr),
				slog.String("tx_hash", ev.TxHash),
				slog.String("error", err.Error()),
			)
			metrics.IngestErrors.WithLabelValues("store").Inc()
			continue
		}
		if !exists {
			err := l.events.AddNew(ctx, ev)
			switch {
			case err == nil:
				added++
				metrics.EventsIngested.Inc()
			case errors.Is(err, domain.ErrAlreadyExists):
			default:
				complete = false
				l.logger.WarnContext(ctx, "store event failed",
					slog.String("address", addr),
					slog.String("tx_hash", ev.TxHash),
					slog.String("error", err.Error()),
				)
				metrics.IngestErrors.WithLabelValues("store").Inc()
				continue
			}
		}
		l.dedup.Remember(key)
	}

	if added > 0 {
		l.logger.DebugContext(ctx, "new trades stored", slog.String("address", addr), slog.Int("count", added))
	}
	return complete, nil
}

func (l *Loop) ingestPositions(ctx context.Context, addr string) error {
	positions, err := l.feed.GetPositions(ctx, addr)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range positions {
		p.Address = addr
		if err := l.positions.Upsert(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
