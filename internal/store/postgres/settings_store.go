package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrydesk/carrybot/internal/domain"
)

// UserSettingsStore implements domain.UserSettingsStore using PostgreSQL.
type UserSettingsStore struct {
	pool *pgxpool.Pool
}

// NewUserSettingsStore creates a UserSettingsStore backed by the given pool.
func NewUserSettingsStore(pool *pgxpool.Pool) *UserSettingsStore {
	return &UserSettingsStore{pool: pool}
}

const settingsSelectCols = `user_id, enabled, min_apr, max_position_size,
	max_simultaneous, risk_tolerance, preferred_venues, auto_close,
	auto_close_min_apr, auto_close_pnl_pct, auto_close_hours, leverage,
	slippage_tolerance, updated_at`

func scanSettingsRow(row pgx.Row) (domain.UserSettings, error) {
	var u domain.UserSettings
	var risk string
	err := row.Scan(
		&u.UserID, &u.Enabled, &u.MinAPR, &u.MaxPositionSize,
		&u.MaxSimultaneous, &risk, &u.PreferredVenues, &u.AutoClose,
		&u.AutoCloseMinAPR, &u.AutoClosePnLPct, &u.AutoCloseHours,
		&u.Leverage, &u.SlippageTolerance, &u.UpdatedAt,
	)
	if err != nil {
		return domain.UserSettings{}, err
	}
	u.RiskTolerance = domain.RiskTolerance(risk)
	return u, nil
}

// Get retrieves one user's settings.
func (s *UserSettingsStore) Get(ctx context.Context, userID string) (domain.UserSettings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settingsSelectCols+` FROM user_settings WHERE user_id = $1`, userID)

	u, err := scanSettingsRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.UserSettings{}, domain.ErrNotFound
		}
		return domain.UserSettings{}, fmt.Errorf("postgres: get settings for %s: %w", userID, err)
	}
	return u, nil
}

// ListEnabled returns the settings of every user with trading enabled.
func (s *UserSettingsStore) ListEnabled(ctx context.Context) ([]domain.UserSettings, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settingsSelectCols+` FROM user_settings
		 WHERE enabled = TRUE
		 ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled settings: %w", err)
	}
	defer rows.Close()

	var all []domain.UserSettings
	for rows.Next() {
		u, err := scanSettingsRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settings: %w", err)
		}
		all = append(all, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate settings: %w", err)
	}
	return all, nil
}

// Upsert inserts or replaces one user's settings.
func (s *UserSettingsStore) Upsert(ctx context.Context, u domain.UserSettings) error {
	const query = `
		INSERT INTO user_settings (
			user_id, enabled, min_apr, max_position_size,
			max_simultaneous, risk_tolerance, preferred_venues, auto_close,
			auto_close_min_apr, auto_close_pnl_pct, auto_close_hours,
			leverage, slippage_tolerance, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled            = EXCLUDED.enabled,
			min_apr            = EXCLUDED.min_apr,
			max_position_size  = EXCLUDED.max_position_size,
			max_simultaneous   = EXCLUDED.max_simultaneous,
			risk_tolerance     = EXCLUDED.risk_tolerance,
			preferred_venues   = EXCLUDED.preferred_venues,
			auto_close         = EXCLUDED.auto_close,
			auto_close_min_apr = EXCLUDED.auto_close_min_apr,
			auto_close_pnl_pct = EXCLUDED.auto_close_pnl_pct,
			auto_close_hours   = EXCLUDED.auto_close_hours,
			leverage           = EXCLUDED.leverage,
			slippage_tolerance = EXCLUDED.slippage_tolerance,
			updated_at         = NOW()`

	_, err := s.pool.Exec(ctx, query,
		u.UserID, u.Enabled, u.MinAPR, u.MaxPositionSize,
		u.MaxSimultaneous, string(u.RiskTolerance), u.PreferredVenues, u.AutoClose,
		u.AutoCloseMinAPR, u.AutoClosePnLPct, u.AutoCloseHours,
		u.Leverage, u.SlippageTolerance,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert settings for %s: %w", u.UserID, err)
	}
	return nil
}
