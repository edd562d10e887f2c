package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `address, asset_id, condition_id,
	size::TEXT, avg_price::TEXT, cur_price::TEXT, initial_value::TEXT,
	current_value::TEXT, cash_pnl::TEXT, percent_pnl::TEXT, realized_pnl::TEXT,
	redeemable, title, outcome_name, updated_at`

func scanPositionRows(rows pgx.Rows) ([]domain.PositionSnapshot, error) {
	defer rows.Close()
	var positions []domain.PositionSnapshot
	for rows.Next() {
		var p domain.PositionSnapshot
		var nums [8]string

		if err := rows.Scan(
			&p.Address, &p.AssetID, &p.ConditionID,
			&nums[0], &nums[1], &nums[2], &nums[3],
			&nums[4], &nums[5], &nums[6], &nums[7],
			&p.Redeemable, &p.Title, &p.OutcomeName, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		targets := []*decimal.Decimal{
			&p.Size, &p.AvgPrice, &p.CurPrice, &p.InitialValue,
			&p.CurrentValue, &p.CashPnL, &p.PercentPnL, &p.RealizedPnL,
		}
		for i, dst := range targets {
			v, err := parseNumeric(nums[i])
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts or replaces the snapshot for (address, asset, condition).
func (s *PositionStore) Upsert(ctx context.Context, p domain.PositionSnapshot) error {
	const query = `
		INSERT INTO positions (
			address, asset_id, condition_id,
			size, avg_price, cur_price, initial_value,
			current_value, cash_pnl, percent_pnl, realized_pnl,
			redeemable, title, outcome_name, updated_at
		) VALUES (
			$1, $2, $3,
			$4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
			$8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
			$12, $13, $14, NOW()
		)
		ON CONFLICT (address, asset_id, condition_id) DO UPDATE SET
			size          = EXCLUDED.size,
			avg_price     = EXCLUDED.avg_price,
			cur_price     = EXCLUDED.cur_price,
			initial_value = EXCLUDED.initial_value,
			current_value = EXCLUDED.current_value,
			cash_pnl      = EXCLUDED.cash_pnl,
			percent_pnl   = EXCLUDED.percent_pnl,
			realized_pnl  = EXCLUDED.realized_pnl,
			redeemable    = EXCLUDED.redeemable,
			title         = EXCLUDED.title,
			outcome_name  = EXCLUDED.outcome_name,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		domain.NormalizeAddress(p.Address), p.AssetID, p.ConditionID,
		p.Size.String(), p.AvgPrice.String(), p.CurPrice.String(), p.InitialValue.String(),
		p.CurrentValue.String(), p.CashPnL.String(), p.PercentPnL.String(), p.RealizedPnL.String(),
		p.Redeemable, p.Title, p.OutcomeName,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.Address, p.AssetID, err)
	}
	return nil
}

// List returns snapshots for address, or every snapshot when address is empty.
func (s *PositionStore) List(ctx context.Context, address string) ([]domain.PositionSnapshot, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions`
	args := []any{}
	if address != "" {
		query += ` WHERE address = $1`
		args = append(args, domain.NormalizeAddress(address))
	}
	query += ` ORDER BY address, asset_id, condition_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}
