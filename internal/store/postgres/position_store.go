package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrydesk/carrybot/internal/domain"
)

// prefixed qualifies every column in a comma-separated list with a table
// alias, for joined queries.
func prefixed(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, trade_id, owner, venue, instrument, side,
	size, entry_price, leverage, slippage, venue_order_id, status,
	cost_basis, unrealized_pnl, realized_pnl, last_error, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	err := row.Scan(
		&p.ID, &p.TradeID, &p.Owner, &p.Venue, &p.Instrument, &side,
		&p.Size, &p.EntryPrice, &p.Leverage, &p.Slippage,
		&p.VenueOrderID, &status,
		&p.CostBasis, &p.UnrealizedPnL, &p.RealizedPnL,
		&p.LastError, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.TradeStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new leg.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, trade_id, owner, venue, instrument, side,
			size, entry_price, leverage, slippage, venue_order_id, status,
			cost_basis, unrealized_pnl, realized_pnl, last_error,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TradeID, p.Owner, p.Venue, p.Instrument, string(p.Side),
		p.Size, p.EntryPrice, p.Leverage, p.Slippage,
		p.VenueOrderID, string(p.Status),
		p.CostBasis, p.UnrealizedPnL, p.RealizedPnL, p.LastError,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a leg.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			size           = $2,
			entry_price    = $3,
			leverage       = $4,
			slippage       = $5,
			venue_order_id = $6,
			status         = $7,
			cost_basis     = $8,
			unrealized_pnl = $9,
			realized_pnl   = $10,
			last_error     = $11,
			closed_at      = $12,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Size, p.EntryPrice, p.Leverage, p.Slippage,
		p.VenueOrderID, string(p.Status),
		p.CostBasis, p.UnrealizedPnL, p.RealizedPnL, p.LastError,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves a leg to a new status. Terminal statuses set closed_at.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	query := `UPDATE positions SET status = $2, updated_at = NOW() WHERE id = $1`
	if status.IsTerminal() {
		query = `UPDATE positions SET status = $2, closed_at = NOW(), updated_at = NOW() WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update position %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetVenueOrderID records the venue's order confirmation for a leg.
func (s *PositionStore) SetVenueOrderID(ctx context.Context, id, venueOrderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET venue_order_id = $2, updated_at = NOW() WHERE id = $1`,
		id, venueOrderID)
	if err != nil {
		return fmt.Errorf("postgres: set venue order id on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordError stores the last error message seen on a leg.
func (s *PositionStore) RecordError(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET last_error = $2, updated_at = NOW() WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("postgres: record error on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single leg.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByTrade returns both legs of a trade, long first.
func (s *PositionStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE trade_id = $1
		 ORDER BY side ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for trade %s: %w", tradeID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListActiveByOwner returns the owner's non-terminal legs.
func (s *PositionStore) ListActiveByOwner(ctx context.Context, owner string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND status IN ('opening', 'open', 'closing')
		 ORDER BY opened_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions for %s: %w", owner, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// ListOrphanOpen returns legs that are still live on a venue while their
// parent trade has already reached a terminal state. These are the legs the
// reconciliation sweep must close.
func (s *PositionStore) ListOrphanOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefixed(positionSelectCols, "p.")+`
		 FROM positions p
		 JOIN trades t ON t.id = p.trade_id
		 WHERE t.status IN ('error', 'closed')
		   AND p.status NOT IN ('closed')
		   AND p.venue_order_id <> ''
		 ORDER BY p.opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orphan positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orphan positions: %w", err)
	}
	return positions, nil
}
