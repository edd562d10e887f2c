package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. The
// trade_event_id column is derived from detail->>'event_id'.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one row; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event domain.AuditEvent, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		string(event), payload,
	); err != nil {
		return fmt.Errorf("postgres: log %s: %w", event, err)
	}
	return nil
}

// List returns matching rows newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	where := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Event != "" {
		where("event = $%d", string(f.Event))
	}
	if f.TradeEventID != "" {
		where("trade_event_id = $%d", f.TradeEventID)
	}
	if f.Since != nil {
		where("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		where("created_at < $%d", *f.Until)
	}

	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit log: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		event   string
		payload []byte
	)
	if err := row.Scan(&e.ID, &event, &payload, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Event = domain.AuditEvent(event)
	if payload != nil {
		if err := json.Unmarshal(payload, &e.Detail); err != nil {
			return e, fmt.Errorf("decode detail of audit row %d: %w", e.ID, err)
		}
	}
	return e, nil
}
