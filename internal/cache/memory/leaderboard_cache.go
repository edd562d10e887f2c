// Package memory provides in-process stand-ins for the Redis-backed cache
// and pub/sub components, used when Redis is disabled.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

type cachedPage struct {
	entries   []domain.LeaderboardEntry
	expiresAt time.Time
}

// LeaderboardCache implements domain.LeaderboardCache as a TTL map.
type LeaderboardCache struct {
	mu    sync.Mutex
	pages map[string]cachedPage
	ttl   time.Duration
	now   func() time.Time
}

var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)

// NewLeaderboardCache keeps each period's page for ttl.
func NewLeaderboardCache(ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		pages: make(map[string]cachedPage),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the cached page or domain.ErrNotFound when absent or expired.
func (c *LeaderboardCache) Get(_ context.Context, period string) ([]domain.LeaderboardEntry, error) {
	key := strings.ToUpper(period)

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !c.now().Before(p.expiresAt) {
		delete(c.pages, key)
		return nil, domain.ErrNotFound
	}
	return slices.Clone(p.entries), nil
}

// Set stores entries for period.
func (c *LeaderboardCache) Set(_ context.Context, period string, entries []domain.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages[strings.ToUpper(period)] = cachedPage{
		entries:   slices.Clone(entries),
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}
