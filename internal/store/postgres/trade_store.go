package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrydesk/carrybot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, owner, instrument, status, size, entry_price,
	cost, pnl, current_apr, expected_apr, auto_close, min_apr, max_pnl_pct,
	max_hours_open, close_reason, created_at, closed_at`

func scanTradeRow(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var status string
	err := row.Scan(
		&t.ID, &t.Owner, &t.Instrument, &status,
		&t.Size, &t.EntryPrice, &t.Cost, &t.PnL,
		&t.CurrentAPR, &t.ExpectedAPR,
		&t.AutoClose, &t.MinAPR, &t.MaxPnLPct, &t.MaxHoursOpen,
		&t.CloseReason, &t.CreatedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Status = domain.TradeStatus(status)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a new trade.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, owner, instrument, status, size, entry_price,
			cost, pnl, current_apr, expected_apr, auto_close, min_apr,
			max_pnl_pct, max_hours_open, close_reason, created_at, closed_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Owner, t.Instrument, string(t.Status),
		t.Size, t.EntryPrice, t.Cost, t.PnL,
		t.CurrentAPR, t.ExpectedAPR,
		t.AutoClose, t.MinAPR, t.MaxPnLPct, t.MaxHoursOpen,
		t.CloseReason, t.CreatedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a trade.
func (s *TradeStore) Update(ctx context.Context, t domain.Trade) error {
	const query = `
		UPDATE trades SET
			status         = $2,
			size           = $3,
			entry_price    = $4,
			cost           = $5,
			pnl            = $6,
			current_apr    = $7,
			expected_apr   = $8,
			auto_close     = $9,
			min_apr        = $10,
			max_pnl_pct    = $11,
			max_hours_open = $12,
			close_reason   = $13,
			closed_at      = $14,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Status),
		t.Size, t.EntryPrice, t.Cost, t.PnL,
		t.CurrentAPR, t.ExpectedAPR,
		t.AutoClose, t.MinAPR, t.MaxPnLPct, t.MaxHoursOpen,
		t.CloseReason, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves a trade to a new status, enforcing the lifecycle edges.
// Terminal statuses also set closed_at.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, reason string) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current.Status, status) {
		return fmt.Errorf("postgres: trade %s: %s -> %s: %w",
			id, current.Status, status, domain.ErrInvalidTransition)
	}

	query := `
		UPDATE trades SET
			status       = $2,
			close_reason = CASE WHEN $3 <> '' THEN $3 ELSE close_reason END,
			updated_at   = NOW()
		WHERE id = $1 AND status = $4`
	if status.IsTerminal() {
		query = `
			UPDATE trades SET
				status       = $2,
				close_reason = CASE WHEN $3 <> '' THEN $3 ELSE close_reason END,
				closed_at    = NOW(),
				updated_at   = NOW()
			WHERE id = $1 AND status = $4`
	}

	// Guarding on the observed status makes concurrent transitions lose
	// cleanly instead of double-applying.
	tag, err := s.pool.Exec(ctx, query, id, string(status), reason, string(current.Status))
	if err != nil {
		return fmt.Errorf("postgres: transition trade %s to %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade %s moved concurrently: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// GetByID retrieves a single trade.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	t, err := scanTradeRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByStatus returns trades in any of the given statuses, newest first.
func (s *TradeStore) ListByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]domain.Trade, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = ANY($1)
		 ORDER BY created_at DESC`, names)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListActiveByOwner returns the owner's in-flight trades, newest first.
func (s *TradeStore) ListActiveByOwner(ctx context.Context, owner string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE owner = $1 AND status IN ('opening', 'open', 'closing')
		 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active trades for %s: %w", owner, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active trades: %w", err)
	}
	return trades, nil
}

// CountActiveByOwner returns how many in-flight trades the owner has.
func (s *TradeStore) CountActiveByOwner(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades
		 WHERE owner = $1 AND status IN ('opening', 'open', 'closing')`, owner,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active trades for %s: %w", owner, err)
	}
	return count, nil
}

// ListAutoCloseCandidates returns every open trade plus opening trades
// created at or before the cutoff. Fresh OPENING trades are excluded so an
// in-flight open is not closed out from under the executing goroutine; one
// older than the cutoff is stranded and must be inspected.
func (s *TradeStore) ListAutoCloseCandidates(ctx context.Context, openingCutoff time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'open'
		    OR (status = 'opening' AND created_at <= $1)
		 ORDER BY created_at ASC`, openingCutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auto-close candidates: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auto-close candidates: %w", err)
	}
	return trades, nil
}
