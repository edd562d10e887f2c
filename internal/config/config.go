// Package config defines the top-level configuration for the copy bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/sizing"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Copy       CopyConfig       `toml:"copy"`
	Ingest     IngestConfig     `toml:"ingest"`
	Executor   ExecutorConfig   `toml:"executor"`
	Feed       FeedConfig       `toml:"feed"`
	Watch      WatchConfig      `toml:"watch"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the operator's signing key and funded proxy wallet.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// ProxyWallet is the address that holds collateral and positions.
	ProxyWallet string `toml:"proxy_wallet"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost        string `toml:"clob_host"`
	DataHost        string `toml:"data_host"`
	ChainID         int    `toml:"chain_id"`
	SignatureType   int    `toml:"signature_type"`
	ExchangeAddress string `toml:"exchange_address"`
}

// CopyConfig holds the sizing knobs for copied orders.
type CopyConfig struct {
	Strategy           string  `toml:"strategy"`
	CopySize           float64 `toml:"copy_size"`
	MinOrderUSD        float64 `toml:"min_order_usd"`
	MaxOrderUSD        float64 `toml:"max_order_usd"`
	MaxPositionUSD     float64 `toml:"max_position_usd"`
	// The adaptive knobs and TradeMultiplier are optional; omitted values
	// fall back to copy_size, 500 USDC and 1.0 respectively.
	AdaptiveMinPercent *float64 `toml:"adaptive_min_percent"`
	AdaptiveMaxPercent *float64 `toml:"adaptive_max_percent"`
	AdaptiveThreshold  *float64 `toml:"adaptive_threshold"`
	// TieredMultipliers uses the compact form "1-10:2.0,10-100:1.0,100+:0.5".
	TieredMultipliers string   `toml:"tiered_multipliers"`
	TradeMultiplier   *float64 `toml:"trade_multiplier"`
}

// Sizing converts the TOML-friendly knobs into a validated sizing.Config.
func (c CopyConfig) Sizing() (sizing.Config, error) {
	strategy, err := sizing.ParseStrategy(c.Strategy)
	if err != nil {
		return sizing.Config{}, err
	}
	tiers, err := sizing.ParseTiers(c.TieredMultipliers)
	if err != nil {
		return sizing.Config{}, err
	}
	out := sizing.Config{
		Strategy:           strategy,
		CopySize:           decimal.NewFromFloat(c.CopySize),
		MinOrderUSD:        decimal.NewFromFloat(c.MinOrderUSD),
		MaxOrderUSD:        decimal.NewFromFloat(c.MaxOrderUSD),
		MaxPositionUSD:     decimal.NewFromFloat(c.MaxPositionUSD),
		AdaptiveMinPercent: optionalDecimal(c.AdaptiveMinPercent),
		AdaptiveMaxPercent: optionalDecimal(c.AdaptiveMaxPercent),
		AdaptiveThreshold:  optionalDecimal(c.AdaptiveThreshold),
		Tiers:              tiers,
		TradeMultiplier:    optionalDecimal(c.TradeMultiplier),
	}
	if err := out.Validate(); err != nil {
		return sizing.Config{}, err
	}
	return out, nil
}

func optionalDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

// IngestConfig controls the activity polling loop.
type IngestConfig struct {
	FetchInterval duration `toml:"fetch_interval"`
	// TooOldTimestamp is a unix-seconds cutoff; older activity is ignored. 0 disables it.
	TooOldTimestamp   int64 `toml:"too_old_timestamp"`
	PageSize          int   `toml:"page_size"`
	Concurrency       int   `toml:"concurrency"`
	BackfillOnStartup bool  `toml:"backfill_on_startup"`
}

// ExecutorConfig controls the copy execution loop.
type ExecutorConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	RetryLimit        int      `toml:"retry_limit"`
	RetryBackoff      duration `toml:"retry_backoff"`
	SlippageTolerance float64  `toml:"slippage_tolerance"`
	PreviewMode       bool     `toml:"preview_mode"`
	SubmitTimeout     duration `toml:"submit_timeout"`
}

// FeedConfig controls HTTP behaviour of the public data API client.
type FeedConfig struct {
	RequestTimeout     duration `toml:"request_timeout"`
	RetryLimit         int      `toml:"retry_limit"`
	RateLimitPerSecond int      `toml:"rate_limit_per_second"`
}

// WatchConfig seeds the watch-list at startup.
type WatchConfig struct {
	Addresses []string `toml:"addresses"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	LeaderboardTTL duration `toml:"leaderboard_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the event archive.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "300ms", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimitPerMinute caps /api requests per client IP; 0 disables it.
	// Enforced only with Redis enabled.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			DataHost:        "https://data-api.polymarket.com",
			ChainID:         137,
			SignatureType:   2,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Copy: CopyConfig{
			Strategy:    string(sizing.StrategyPercentage),
			CopySize:    10.0,
			MinOrderUSD: 1.0,
			MaxOrderUSD: 100.0,
		},
		Ingest: IngestConfig{
			FetchInterval:     duration{time.Second},
			PageSize:          100,
			Concurrency:       4,
			BackfillOnStartup: true,
		},
		Executor: ExecutorConfig{
			PollInterval:      duration{300 * time.Millisecond},
			RetryLimit:        3,
			RetryBackoff:      duration{time.Second},
			SlippageTolerance: 0.05,
			SubmitTimeout:     duration{15 * time.Second},
		},
		Feed: FeedConfig{
			RequestTimeout:     duration{10 * time.Second},
			RetryLimit:         3,
			RateLimitPerSecond: 10,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:        false,
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			LeaderboardTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "copybot-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        5000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trading_disabled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders are placed.
	if strings.EqualFold(c.Mode, "full") {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.ProxyWallet == "" {
			errs = append(errs, "wallet: proxy_wallet must be set for mode full")
		}
	}
	if c.Wallet.ProxyWallet != "" && !IsAddress(c.Wallet.ProxyWallet) {
		errs = append(errs, fmt.Sprintf("wallet: proxy_wallet %q is not a 0x address", c.Wallet.ProxyWallet))
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	if !IsAddress(c.Polymarket.ExchangeAddress) {
		errs = append(errs, "polymarket: exchange_address must be a 0x address")
	}

	// Sizing errors are configuration errors, never runtime ones.
	if _, err := c.Copy.Sizing(); err != nil {
		errs = append(errs, "copy: "+err.Error())
	}

	if c.Ingest.FetchInterval.Duration < time.Second {
		errs = append(errs, "ingest: fetch_interval must be at least 1s")
	}
	if c.Ingest.PageSize < 1 || c.Ingest.PageSize > 500 {
		errs = append(errs, "ingest: page_size must be 1-500")
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, "ingest: concurrency must be >= 1")
	}
	if c.Ingest.TooOldTimestamp < 0 {
		errs = append(errs, "ingest: too_old_timestamp must not be negative")
	}

	if c.Executor.PollInterval.Duration <= 0 {
		errs = append(errs, "executor: poll_interval must be > 0")
	}
	if c.Executor.RetryLimit < 1 {
		errs = append(errs, "executor: retry_limit must be >= 1")
	}
	if c.Executor.RetryBackoff.Duration < 0 {
		errs = append(errs, "executor: retry_backoff must not be negative")
	}
	if c.Executor.SlippageTolerance < 0 || c.Executor.SlippageTolerance >= 1 {
		errs = append(errs, "executor: slippage_tolerance must be within [0, 1)")
	}
	if c.Executor.SubmitTimeout.Duration <= 0 {
		errs = append(errs, "executor: submit_timeout must be > 0")
	}

	if c.Feed.RequestTimeout.Duration <= 0 {
		errs = append(errs, "feed: request_timeout must be > 0")
	}
	if c.Feed.RetryLimit < 0 {
		errs = append(errs, "feed: retry_limit must be >= 0")
	}

	for _, a := range c.Watch.Addresses {
		if !IsAddress(a) {
			errs = append(errs, fmt.Sprintf("watch: %q is not a 0x address", a))
		}
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Redis.LeaderboardTTL.Duration <= 0 {
		errs = append(errs, "redis: leaderboard_ttl must be > 0")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveInterval.Duration < time.Minute {
			errs = append(errs, "s3: archive_interval must be at least 1m")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "0x") && common.IsHexAddress(s)
}
