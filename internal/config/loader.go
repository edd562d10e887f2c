package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.ProxyWallet, "COPYBOT_WALLET_PROXY_WALLET")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "COPYBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ExchangeAddress, "COPYBOT_POLYMARKET_EXCHANGE_ADDRESS")

	// ── Copy sizing ──
	setStr(&cfg.Copy.Strategy, "COPYBOT_COPY_STRATEGY")
	setFloat64(&cfg.Copy.CopySize, "COPYBOT_COPY_SIZE")
	setFloat64(&cfg.Copy.MinOrderUSD, "COPYBOT_COPY_MIN_ORDER_USD")
	setFloat64(&cfg.Copy.MaxOrderUSD, "COPYBOT_COPY_MAX_ORDER_USD")
	setFloat64(&cfg.Copy.MaxPositionUSD, "COPYBOT_COPY_MAX_POSITION_USD")
	setOptionalFloat64(&cfg.Copy.AdaptiveMinPercent, "COPYBOT_COPY_ADAPTIVE_MIN_PERCENT")
	setOptionalFloat64(&cfg.Copy.AdaptiveMaxPercent, "COPYBOT_COPY_ADAPTIVE_MAX_PERCENT")
	setOptionalFloat64(&cfg.Copy.AdaptiveThreshold, "COPYBOT_COPY_ADAPTIVE_THRESHOLD")
	setStr(&cfg.Copy.TieredMultipliers, "COPYBOT_COPY_TIERED_MULTIPLIERS")
	setOptionalFloat64(&cfg.Copy.TradeMultiplier, "COPYBOT_COPY_TRADE_MULTIPLIER")

	// ── Ingest ──
	setSeconds(&cfg.Ingest.FetchInterval, "COPYBOT_INGEST_FETCH_INTERVAL")
	setInt64(&cfg.Ingest.TooOldTimestamp, "COPYBOT_INGEST_TOO_OLD_TIMESTAMP")
	setInt(&cfg.Ingest.PageSize, "COPYBOT_INGEST_PAGE_SIZE")
	setInt(&cfg.Ingest.Concurrency, "COPYBOT_INGEST_CONCURRENCY")
	setBool(&cfg.Ingest.BackfillOnStartup, "COPYBOT_INGEST_BACKFILL_ON_STARTUP")

	// ── Executor ──
	setDuration(&cfg.Executor.PollInterval, "COPYBOT_EXECUTOR_POLL_INTERVAL")
	setInt(&cfg.Executor.RetryLimit, "COPYBOT_EXECUTOR_RETRY_LIMIT")
	setDuration(&cfg.Executor.RetryBackoff, "COPYBOT_EXECUTOR_RETRY_BACKOFF")
	setFloat64(&cfg.Executor.SlippageTolerance, "COPYBOT_EXECUTOR_SLIPPAGE_TOLERANCE")
	setBool(&cfg.Executor.PreviewMode, "COPYBOT_EXECUTOR_PREVIEW_MODE")
	setDuration(&cfg.Executor.SubmitTimeout, "COPYBOT_EXECUTOR_SUBMIT_TIMEOUT")

	// ── Feed ──
	setDuration(&cfg.Feed.RequestTimeout, "COPYBOT_FEED_REQUEST_TIMEOUT")
	setInt(&cfg.Feed.RetryLimit, "COPYBOT_FEED_RETRY_LIMIT")
	setInt(&cfg.Feed.RateLimitPerSecond, "COPYBOT_FEED_RATE_LIMIT_PER_SECOND")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Addresses, "COPYBOT_WATCH_ADDRESSES")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "COPYBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "COPYBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "COPYBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COPYBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COPYBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "COPYBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "COPYBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COPYBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "COPYBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COPYBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COPYBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LeaderboardTTL, "COPYBOT_REDIS_LEADERBOARD_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COPYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "COPYBOT_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "COPYBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "COPYBOT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setOptionalFloat64(dst **float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setSeconds accepts either a Go duration ("2s") or a bare number of seconds ("2").
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(n) * time.Second
			return
		}
		setDuration(dst, key)
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
