package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/xunboo/polymarket-copy-bot/internal/blob/s3"
	"github.com/xunboo/polymarket-copy-bot/internal/cache/memory"
	"github.com/xunboo/polymarket-copy-bot/internal/cache/redis"
	"github.com/xunboo/polymarket-copy-bot/internal/config"
	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/notify"
	"github.com/xunboo/polymarket-copy-bot/internal/platform/polymarket"
	"github.com/xunboo/polymarket-copy-bot/internal/server/handler"
	storemem "github.com/xunboo/polymarket-copy-bot/internal/store/memory"
	"github.com/xunboo/polymarket-copy-bot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Events    domain.ActivityStore
	Positions domain.PositionStore
	Watch     domain.WatchStore
	Audit     domain.AuditStore

	// Caches and coordination
	LeaderboardCache domain.LeaderboardCache
	FeedLimiter      domain.RateLimiter
	APILimiter       domain.RateLimiter
	LockManager      domain.LockManager
	EventBus         domain.EventBus

	// Polymarket Data API client; serves both Feed and LeaderboardSource.
	Feed *polymarket.DataClient

	// Archiver is nil unless [s3] is enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier

	// Health lists the backing services checked by /api/health.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL, or in-memory stores ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Events = postgres.NewActivityStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Watch = postgres.NewWatchStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient
	} else {
		logger.WarnContext(ctx, "database disabled: using in-memory stores, state is lost on restart")
		deps.Events = storemem.NewActivityStore()
		deps.Positions = storemem.NewPositionStore()
		deps.Watch = storemem.NewWatchStore()
		deps.Audit = storemem.NewAuditStore()
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LeaderboardCache = redis.NewLeaderboardCache(redisClient, cfg.Redis.LeaderboardTTL.Duration)
		if cfg.Feed.RateLimitPerSecond > 0 {
			deps.FeedLimiter = redis.NewRateLimiter(redisClient, cfg.Feed.RateLimitPerSecond, time.Second)
		}
		if cfg.Server.RateLimitPerMinute > 0 {
			deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMinute, time.Minute)
		}
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		deps.LeaderboardCache = memory.NewLeaderboardCache(cfg.Redis.LeaderboardTTL.Duration)
		deps.EventBus = memory.NewEventBus()
	}

	// --- Polymarket Data API ---
	deps.Feed = polymarket.NewDataClient(polymarket.DataClientConfig{
		BaseURL:    cfg.Polymarket.DataHost,
		Timeout:    cfg.Feed.RequestTimeout.Duration,
		RetryLimit: cfg.Feed.RetryLimit,
		Limiter:    deps.FeedLimiter,
		Logger:     logger,
	})

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archive uploads will fail",
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Events,
			deps.Audit,
			cfg.S3.ArchiveInterval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
