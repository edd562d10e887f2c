package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// LeaderboardCache implements domain.LeaderboardCache as JSON strings with a TTL.
type LeaderboardCache struct {
	c   *Client
	ttl time.Duration
}

var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)

// NewLeaderboardCache keeps each period's page for ttl.
func NewLeaderboardCache(c *Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{c: c, ttl: ttl}
}

// Get returns the cached page or domain.ErrNotFound on a miss.
func (lc *LeaderboardCache) Get(ctx context.Context, period string) ([]domain.LeaderboardEntry, error) {
	raw, err := lc.c.rdb.Get(ctx, lc.c.key("leaderboard", period)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get leaderboard %s: %w", period, err)
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("redis: decode leaderboard %s: %w", period, err)
	}
	return entries, nil
}

// Set stores entries for period.
func (lc *LeaderboardCache) Set(ctx context.Context, period string, entries []domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("redis: encode leaderboard %s: %w", period, err)
	}
	if err := lc.c.rdb.Set(ctx, lc.c.key("leaderboard", period), raw, lc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set leaderboard %s: %w", period, err)
	}
	return nil
}
