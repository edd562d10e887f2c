package domain

import (
	"context"
	"time"
)

// LeaderboardCache stores leaderboard pages for a short time.
type LeaderboardCache interface {
	Get(ctx context.Context, period string) ([]LeaderboardEntry, error)
	Set(ctx context.Context, period string, entries []LeaderboardEntry) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus provides pub/sub for resolved trade events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
