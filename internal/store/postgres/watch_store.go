package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// WatchStore implements domain.WatchStore using PostgreSQL.
type WatchStore struct {
	pool *pgxpool.Pool
}

var _ domain.WatchStore = (*WatchStore)(nil)

// NewWatchStore creates a new WatchStore backed by the given connection pool.
func NewWatchStore(pool *pgxpool.Pool) *WatchStore {
	return &WatchStore{pool: pool}
}

// Add inserts the address un-backfilled. Existing rows are left untouched.
func (s *WatchStore) Add(ctx context.Context, e domain.WatchEntry) error {
	const query = `
		INSERT INTO watch_list (address, name)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, domain.NormalizeAddress(e.Address), e.Name); err != nil {
		return fmt.Errorf("postgres: add watch %s: %w", e.Address, err)
	}
	return nil
}

// Remove deletes the address.
func (s *WatchStore) Remove(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watch_list WHERE address = $1`, domain.NormalizeAddress(address))
	if err != nil {
		return fmt.Errorf("postgres: remove watch %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns one entry.
func (s *WatchStore) Get(ctx context.Context, address string) (domain.WatchEntry, error) {
	var e domain.WatchEntry
	err := s.pool.QueryRow(ctx,
		`SELECT address, name, created_at, backfilled_at FROM watch_list WHERE address = $1`,
		domain.NormalizeAddress(address),
	).Scan(&e.Address, &e.Name, &e.CreatedAt, &e.BackfilledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WatchEntry{}, domain.ErrNotFound
		}
		return domain.WatchEntry{}, fmt.Errorf("postgres: get watch %s: %w", address, err)
	}
	return e, nil
}

// List returns all entries, oldest first.
func (s *WatchStore) List(ctx context.Context) ([]domain.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, name, created_at, backfilled_at FROM watch_list ORDER BY created_at ASC, address ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watch: %w", err)
	}
	defer rows.Close()

	var entries []domain.WatchEntry
	for rows.Next() {
		var e domain.WatchEntry
		if err := rows.Scan(&e.Address, &e.Name, &e.CreatedAt, &e.BackfilledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watch: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watch rows: %w", err)
	}
	return entries, nil
}

// MarkBackfilled records when the address's history was skipped.
func (s *WatchStore) MarkBackfilled(ctx context.Context, address string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watch_list SET backfilled_at = $2 WHERE address = $1`,
		domain.NormalizeAddress(address), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark backfilled %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetBackfill clears every backfill mark.
func (s *WatchStore) ResetBackfill(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `UPDATE watch_list SET backfilled_at = NULL`); err != nil {
		return fmt.Errorf("postgres: reset backfill: %w", err)
	}
	return nil
}
