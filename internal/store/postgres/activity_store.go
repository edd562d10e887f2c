package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL. Claims are
// single conditional UPDATEs so concurrent executors never share an event.
type ActivityStore struct {
	pool *pgxpool.Pool
}

var _ domain.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a new ActivityStore backed by the given connection pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

const eventSelectCols = `id, address, tx_hash, asset_id, condition_id, side,
	size::TEXT, notional::TEXT, price::TEXT, traded_at,
	title, slug, outcome_name, state, attempts, result, detail,
	created_at, updated_at`

func scanEventRow(row pgx.Row) (domain.TradeEvent, error) {
	var ev domain.TradeEvent
	var side, state, result, size, notional, price string

	err := row.Scan(
		&ev.ID, &ev.Address, &ev.TxHash, &ev.AssetID, &ev.ConditionID, &side,
		&size, &notional, &price, &ev.Timestamp,
		&ev.Title, &ev.Slug, &ev.OutcomeName, &state, &ev.Attempts, &result, &ev.Detail,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	ev.Side = domain.ParseTradeSide(side)
	ev.State = domain.EventState(state)
	ev.Outcome = domain.ExecutionOutcome(result)
	if ev.Size, err = parseNumeric(size); err != nil {
		return domain.TradeEvent{}, err
	}
	if ev.Notional, err = parseNumeric(notional); err != nil {
		return domain.TradeEvent{}, err
	}
	if ev.Price, err = parseNumeric(price); err != nil {
		return domain.TradeEvent{}, err
	}
	return ev, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.TradeEvent, error) {
	defer rows.Close()
	var events []domain.TradeEvent
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AddNew inserts ev in state new.
func (s *ActivityStore) AddNew(ctx context.Context, ev domain.TradeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO trade_events (
			id, address, tx_hash, asset_id, condition_id, side,
			size, notional, price, traded_at,
			title, slug, outcome_name, state
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10,
			$11, $12, $13, 'new'
		)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, domain.NormalizeAddress(ev.Address), ev.TxHash, ev.AssetID, ev.ConditionID, string(ev.Side),
		ev.Size.String(), ev.Notional.String(), ev.Price.String(), ev.Timestamp.UTC(),
		ev.Title, ev.Slug, ev.OutcomeName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: add event %s: %w", ev.TxHash, err)
	}
	return nil
}

// TryClaim moves the event from new to in_flight.
func (s *ActivityStore) TryClaim(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE trade_events
		SET state = 'in_flight', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'new'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim event %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trade_events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: claim event %s: %w", id, err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// Resolve writes the terminal state of an in_flight event.
func (s *ActivityStore) Resolve(ctx context.Context, id string, r domain.Resolution) error {
	if !r.State.Terminal() {
		return fmt.Errorf("postgres: resolve %s to %q: %w", id, r.State, domain.ErrInvalidTransition)
	}
	const query = `
		UPDATE trade_events
		SET state = $2, result = $3, detail = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'in_flight'`

	tag, err := s.pool.Exec(ctx, query, id, string(r.State), string(r.Outcome), r.Detail)
	if err != nil {
		return fmt.Errorf("postgres: resolve event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: resolve event %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// ExistsByTxHash reports whether the address already has an event for txHash.
func (s *ActivityStore) ExistsByTxHash(ctx context.Context, address, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trade_events WHERE address = $1 AND tx_hash = $2)`,
		domain.NormalizeAddress(address), txHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: event exists %s: %w", txHash, err)
	}
	return exists, nil
}

// ListNew returns the address's new events, oldest first.
func (s *ActivityStore) ListNew(ctx context.Context, address string) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events
		WHERE address = $1 AND state = 'new'
		ORDER BY traded_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, domain.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("postgres: list new events: %w", err)
	}
	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan new events: %w", err)
	}
	return events, nil
}

// BulkSkipUnclaimed marks every new event of address skipped.
func (s *ActivityStore) BulkSkipUnclaimed(ctx context.Context, address string) (int64, error) {
	const query = `
		UPDATE trade_events
		SET state = 'skipped', result = $2, updated_at = NOW()
		WHERE address = $1 AND state = 'new'`

	tag, err := s.pool.Exec(ctx, query, domain.NormalizeAddress(address), string(domain.OutcomeSkipBackfill))
	if err != nil {
		return 0, fmt.Errorf("postgres: skip unclaimed for %s: %w", address, err)
	}
	return tag.RowsAffected(), nil
}

// Get returns one event by ID.
func (s *ActivityStore) Get(ctx context.Context, id string) (domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events WHERE id = $1`
	ev, err := scanEventRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeEvent{}, domain.ErrNotFound
		}
		return domain.TradeEvent{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return ev, nil
}

// List returns events matching f, newest first.
func (s *ActivityStore) List(ctx context.Context, f domain.EventFilter) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Address != "" {
		query += fmt.Sprintf(" AND address = $%d", argIdx)
		args = append(args, domain.NormalizeAddress(f.Address))
		argIdx++
	}
	if f.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(f.State))
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND traded_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND traded_at < $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY traded_at DESC, id ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListResolvedBetween returns terminal events last updated within [from, to).
func (s *ActivityStore) ListResolvedBetween(ctx context.Context, from, to time.Time) ([]domain.TradeEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM trade_events
		WHERE state IN ('executed', 'skipped') AND updated_at >= $1 AND updated_at < $2
		ORDER BY traded_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved events: %w", err)
	}
	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved events: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
