package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

const (
	leaderboardPageSize = 50
	leaderboardPages    = 2
	dataRateLimitKey    = "data-api"
	userAgent           = "polymarket-copy-bot/1.0"
)

// DataClientConfig configures a DataClient.
type DataClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RetryLimit     int           // total attempts per request
	InitialBackoff time.Duration // doubled after each failed attempt
	Limiter        domain.RateLimiter
	Logger         *slog.Logger
}

// DataClient is the REST client for the public Polymarket Data API
// (activity, positions, leaderboard). It needs no credentials.
type DataClient struct {
	baseURL        string
	httpClient     *http.Client
	retryLimit     int
	initialBackoff time.Duration
	limiter        domain.RateLimiter
	logger         *slog.Logger
	now            func() time.Time
}

var (
	_ domain.Feed              = (*DataClient)(nil)
	_ domain.LeaderboardSource = (*DataClient)(nil)
)

// NewDataClient creates a Data API client.
func NewDataClient(cfg DataClientConfig) *DataClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.RetryLimit
	if retries < 1 {
		retries = 1
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DataClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		retryLimit:     retries,
		initialBackoff: initial,
		limiter:        cfg.Limiter,
		logger:         logger.With(slog.String("component", "data_api")),
		now:            time.Now,
	}
}

// GetActivity returns the most recent activity of address, newest first.
func (c *DataClient) GetActivity(ctx context.Context, address, kind string, limit int) ([]domain.TradeEvent, error) {
	q := url.Values{}
	q.Set("user", address)
	if kind != "" {
		q.Set("type", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []APIActivity
	if err := c.getJSON(ctx, "/activity", q, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: activity %s: %w", address, err)
	}

	events := make([]domain.TradeEvent, 0, len(rows))
	for i := range rows {
		if rows[i].TransactionHash == "" {
			continue
		}
		events = append(events, rows[i].ToDomain(address))
	}
	return events, nil
}

// GetPositions returns the live positions of address.
func (c *DataClient) GetPositions(ctx context.Context, address string) ([]domain.PositionSnapshot, error) {
	q := url.Values{}
	q.Set("user", address)

	var rows []APIPosition
	if err := c.getJSON(ctx, "/positions", q, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: positions %s: %w", address, err)
	}

	now := c.now().UTC()
	out := make([]domain.PositionSnapshot, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain(address, now))
	}
	return out, nil
}

// GetLeaderboard returns the top traders for period (DAY, WEEK, MONTH, ALL).
func (c *DataClient) GetLeaderboard(ctx context.Context, period string) ([]domain.LeaderboardEntry, error) {
	period = strings.ToUpper(strings.TrimSpace(period))
	if period == "" {
		period = "MONTH"
	}

	var out []domain.LeaderboardEntry
	for page := 0; page < leaderboardPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(leaderboardPageSize))
		q.Set("offset", strconv.Itoa(page*leaderboardPageSize))
		q.Set("timePeriod", period)

		var rows []APILeaderboardEntry
		if err := c.getJSON(ctx, "/v1/leaderboard", q, &rows); err != nil {
			return nil, fmt.Errorf("polymarket/data: leaderboard %s: %w", period, err)
		}
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
		if len(rows) < leaderboardPageSize {
			break
		}
	}
	return out, nil
}

// getJSON performs a GET with rate limiting and exponential-backoff retry,
// then decodes the body into dst. Client errors other than 429 are not retried.
func (c *DataClient) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	endpoint := c.baseURL + path + "?" + q.Encode()

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, dataRateLimitKey); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		b, err := do(c.httpClient, req)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code >= 400 && se.code < 500 ||
				errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "data api request failed, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.retryLimit),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *DataClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retryLimit-1)), ctx)
}
