package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// DefaultLeaderboardPeriod is used when no period is requested.
const DefaultLeaderboardPeriod = "MONTH"

// ErrInvalidPeriod is returned for periods other than DAY, WEEK, MONTH, ALL.
var ErrInvalidPeriod = errors.New("invalid leaderboard period")

var leaderboardPeriods = map[string]bool{
	"DAY":   true,
	"WEEK":  true,
	"MONTH": true,
	"ALL":   true,
}

// NormalizePeriod upper-cases period and checks it. Empty means MONTH.
func NormalizePeriod(period string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(period))
	if p == "" {
		return DefaultLeaderboardPeriod, nil
	}
	if !leaderboardPeriods[p] {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return p, nil
}

// LeaderboardService serves the public trader leaderboard through a
// read-through cache keyed by period.
type LeaderboardService struct {
	source domain.LeaderboardSource
	cache  domain.LeaderboardCache
	logger *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(source domain.LeaderboardSource, cache domain.LeaderboardCache, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "leaderboard")),
	}
}

// Get returns the leaderboard for period, from cache when fresh.
func (s *LeaderboardService) Get(ctx context.Context, period string) ([]domain.LeaderboardEntry, error) {
	p, err := NormalizePeriod(period)
	if err != nil {
		return nil, err
	}

	entries, err := s.cache.Get(ctx, p)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache get failed",
			slog.String("period", p),
			slog.String("error", err.Error()),
		)
	}

	entries, err = s.source.GetLeaderboard(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: fetch %s: %w", p, err)
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}

	if err := s.cache.Set(ctx, p, entries); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("period", p),
			slog.String("error", err.Error()),
		)
	}
	return entries, nil
}
