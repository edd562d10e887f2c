package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xunboo/polymarket-copy-bot/internal/crypto"
	"github.com/xunboo/polymarket-copy-bot/internal/executor"
	"github.com/xunboo/polymarket-copy-bot/internal/ingest"
	"github.com/xunboo/polymarket-copy-bot/internal/platform/polymarket"
	"github.com/xunboo/polymarket-copy-bot/internal/server"
	"github.com/xunboo/polymarket-copy-bot/internal/server/handler"
	"github.com/xunboo/polymarket-copy-bot/internal/server/ws"
	"github.com/xunboo/polymarket-copy-bot/internal/service"
)

// FullMode runs ingestion, execution, the HTTP server and, when enabled,
// the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	engine, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	watchSvc := a.seedWatchlist(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	if err := startCopyLoops(ctx, g, a.buildLoop(deps), engine); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, watchSvc, engine)
	}

	return g.Wait()
}

// MonitorMode ingests activity and serves the API without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	watchSvc := a.seedWatchlist(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	if err := startCopyLoops(ctx, g, a.buildLoop(deps), nil); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, watchSvc, nil)
	}

	return g.Wait()
}

// ServerMode serves the HTTP API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	watchSvc := a.seedWatchlist(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, watchSvc, nil)
	return g.Wait()
}

// startCopyLoops clears the backfill marks synchronously, then starts the
// ingestion loop and, when engine is non-nil, the execution engine. The
// engine must never scan an address that still carries last run's mark.
func startCopyLoops(ctx context.Context, g *errgroup.Group, loop *ingest.Loop, engine *executor.Engine) error {
	if err := loop.Prepare(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		return loop.Run(ctx)
	})
	if engine != nil {
		engine.Start(ctx)
		g.Go(func() error {
			return engine.Run(ctx)
		})
	}
	return nil
}

// seedWatchlist adds the configured addresses. Failures are logged and do
// not stop startup.
func (a *App) seedWatchlist(ctx context.Context, deps *Dependencies) *service.WatchlistService {
	svc := service.NewWatchlistService(deps.Watch, deps.Audit, a.logger)
	if err := svc.Seed(ctx, a.cfg.Watch.Addresses); err != nil {
		a.logger.WarnContext(ctx, "watch-list seeding incomplete", slog.String("error", err.Error()))
	}
	return svc
}

func (a *App) buildLoop(deps *Dependencies) *ingest.Loop {
	return ingest.NewLoop(deps.Feed, deps.Events, deps.Positions, deps.Watch, ingest.Config{
		FetchInterval:     a.cfg.Ingest.FetchInterval.Duration,
		TooOldTimestamp:   a.cfg.Ingest.TooOldTimestamp,
		PageSize:          a.cfg.Ingest.PageSize,
		Concurrency:       a.cfg.Ingest.Concurrency,
		BackfillOnStartup: a.cfg.Ingest.BackfillOnStartup,
	}, a.logger)
}

// buildEngine creates the signer -> CLOB client -> execution engine chain.
// Credentials are derived later by Engine.Start.
func (a *App) buildEngine(deps *Dependencies) (*executor.Engine, error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: load key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID, a.cfg.Polymarket.ExchangeAddress)
	if err != nil {
		return nil, fmt.Errorf("build engine: create signer: %w", err)
	}

	sizingCfg, err := a.cfg.Copy.Sizing()
	if err != nil {
		return nil, fmt.Errorf("build engine: sizing: %w", err)
	}

	clob := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       a.cfg.Polymarket.ClobHost,
		Signer:        signer,
		Funder:        a.cfg.Wallet.ProxyWallet,
		SignatureType: a.cfg.Polymarket.SignatureType,
		Timeout:       a.cfg.Executor.SubmitTimeout.Duration,
	})

	engine := executor.NewEngine(clob, deps.Feed, deps.Events, deps.Watch, deps.Audit, executor.Config{
		PollInterval:      a.cfg.Executor.PollInterval.Duration,
		RetryLimit:        a.cfg.Executor.RetryLimit,
		RetryBackoff:      a.cfg.Executor.RetryBackoff.Duration,
		SlippageTolerance: decimal.NewFromFloat(a.cfg.Executor.SlippageTolerance),
		PreviewMode:       a.cfg.Executor.PreviewMode,
		SubmitTimeout:     a.cfg.Executor.SubmitTimeout.Duration,
		ProxyWallet:       a.cfg.Wallet.ProxyWallet,
		Sizing:            sizingCfg,
	}, a.logger)
	engine.SetEventBus(deps.EventBus)
	engine.SetNotifier(deps.Notifier)
	if deps.LockManager != nil {
		engine.SetLockManager(deps.LockManager)
	}

	a.logger.Info("execution engine ready",
		slog.String("signer", signer.Address().Hex()),
		slog.String("proxy_wallet", a.cfg.Wallet.ProxyWallet),
		slog.String("strategy", string(sizingCfg.Strategy)),
		slog.Bool("preview", a.cfg.Executor.PreviewMode),
	)
	return engine, nil
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup.
// The server is shut down gracefully when the context is cancelled. trading
// is nil in modes without an execution engine.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	watchSvc *service.WatchlistService,
	trading handler.TradingStatus,
) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Channel:   executor.EventsChannel,
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(a.cfg.Mode, a.logger)
	if trading != nil {
		health.SetTradingStatus(trading)
	}
	for name, p := range deps.Health {
		health.AddDependency(name, p)
	}

	leaderboardSvc := service.NewLeaderboardService(deps.Feed, deps.LeaderboardCache, a.logger)

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.APILimiter,
		RateLimitWindow: time.Minute,
	}, server.Handlers{
		Health:      health,
		Users:       handler.NewUsersHandler(watchSvc, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(leaderboardSvc, a.logger),
		Events:      handler.NewEventHandler(deps.Events, a.logger),
		Positions:   handler.NewPositionHandler(deps.Positions, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
