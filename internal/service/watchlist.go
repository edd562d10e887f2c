package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/metrics"
)

// ErrInvalidAddress is returned for anything other than a 0x-prefixed
// 40-hex-digit address.
var ErrInvalidAddress = errors.New("invalid address")

// WatchlistService manages the set of addresses whose trades are copied.
type WatchlistService struct {
	watch  domain.WatchStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewWatchlistService creates a WatchlistService.
func NewWatchlistService(watch domain.WatchStore, audit domain.AuditStore, logger *slog.Logger) *WatchlistService {
	return &WatchlistService{
		watch:  watch,
		audit:  audit,
		logger: logger.With(slog.String("component", "watchlist")),
	}
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "0x") && common.IsHexAddress(s)
}

// Add starts watching address. Adding an address that is already watched
// returns the existing entry unchanged. New entries are un-backfilled.
func (s *WatchlistService) Add(ctx context.Context, address, name string) (domain.WatchEntry, error) {
	address = strings.TrimSpace(address)
	if !ValidAddress(address) {
		return domain.WatchEntry{}, fmt.Errorf("watchlist: %q: %w", address, ErrInvalidAddress)
	}
	address = domain.NormalizeAddress(address)

	_, err := s.watch.Get(ctx, address)
	existed := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.WatchEntry{}, fmt.Errorf("watchlist: get %s: %w", address, err)
	}

	if !existed {
		entry := domain.WatchEntry{Address: address, Name: strings.TrimSpace(name)}
		if err := s.watch.Add(ctx, entry); err != nil {
			return domain.WatchEntry{}, fmt.Errorf("watchlist: add %s: %w", address, err)
		}
		s.logger.InfoContext(ctx, "address added", slog.String("address", address))
		s.auditLog(ctx, domain.AuditWatchAdded, address)
		s.refreshGauge(ctx)
	}

	entry, err := s.watch.Get(ctx, address)
	if err != nil {
		return domain.WatchEntry{}, fmt.Errorf("watchlist: get %s: %w", address, err)
	}
	return entry, nil
}

// Remove stops watching address. Returns domain.ErrNotFound when absent.
func (s *WatchlistService) Remove(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(strings.TrimSpace(address))
	if err := s.watch.Remove(ctx, address); err != nil {
		return fmt.Errorf("watchlist: remove %s: %w", address, err)
	}
	s.logger.InfoContext(ctx, "address removed", slog.String("address", address))
	s.auditLog(ctx, domain.AuditWatchRemoved, address)
	s.refreshGauge(ctx)
	return nil
}

// List returns every watched entry, oldest first.
func (s *WatchlistService) List(ctx context.Context) ([]domain.WatchEntry, error) {
	entries, err := s.watch.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("watchlist: list: %w", err)
	}
	return entries, nil
}

// Addresses returns the watched addresses only.
func (s *WatchlistService) Addresses(ctx context.Context) ([]string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Address)
	}
	return out, nil
}

// Seed adds each configured address, collecting every failure.
func (s *WatchlistService) Seed(ctx context.Context, addresses []string) error {
	var errs []error
	for _, a := range addresses {
		if _, err := s.Add(ctx, a, ""); err != nil {
			errs = append(errs, err)
		}
	}
	s.refreshGauge(ctx)
	return errors.Join(errs...)
}

func (s *WatchlistService) auditLog(ctx context.Context, event domain.AuditEvent, address string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, map[string]any{"address": address}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WatchlistService) refreshGauge(ctx context.Context) {
	entries, err := s.watch.List(ctx)
	if err != nil {
		return
	}
	metrics.WatchedAddresses.Set(float64(len(entries)))
}
