package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrydesk/carrybot/internal/domain"
)

// defaultMaxAge bounds GetLatest when the caller does not set one. Snapshots
// older than this are invisible to detection.
const defaultMaxAge = 10 * time.Minute

// FundingRateStore implements domain.FundingRateStore using PostgreSQL.
type FundingRateStore struct {
	pool *pgxpool.Pool
}

// NewFundingRateStore creates a FundingRateStore backed by the given pool.
func NewFundingRateStore(pool *pgxpool.Pool) *FundingRateStore {
	return &FundingRateStore{pool: pool}
}

const rateSelectCols = `venue, instrument, rate, cycle_hours, mark_price,
	index_price, next_funding, observed_at`

func scanRateRows(rows pgx.Rows) ([]domain.FundingRate, error) {
	var rates []domain.FundingRate
	for rows.Next() {
		var r domain.FundingRate
		if err := rows.Scan(
			&r.Venue, &r.Instrument, &r.Rate, &r.CycleHours,
			&r.MarkPrice, &r.IndexPrice, &r.NextFunding, &r.ObservedAt,
		); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// Upsert records one snapshot. Re-observing the same (venue, instrument,
// observed_at) replaces the row.
func (s *FundingRateStore) Upsert(ctx context.Context, rate domain.FundingRate) error {
	const query = `
		INSERT INTO funding_rates (
			venue, instrument, rate, cycle_hours, mark_price,
			index_price, next_funding, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (venue, instrument, observed_at) DO UPDATE SET
			rate         = EXCLUDED.rate,
			cycle_hours  = EXCLUDED.cycle_hours,
			mark_price   = EXCLUDED.mark_price,
			index_price  = EXCLUDED.index_price,
			next_funding = EXCLUDED.next_funding`

	_, err := s.pool.Exec(ctx, query,
		rate.Venue, rate.Instrument, rate.Rate, rate.CycleHours,
		rate.MarkPrice, rate.IndexPrice, rate.NextFunding, rate.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert funding rate %s/%s: %w", rate.Venue, rate.Instrument, err)
	}
	return nil
}

// UpsertBatch records many snapshots in one round trip.
func (s *FundingRateStore) UpsertBatch(ctx context.Context, rates []domain.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO funding_rates (
			venue, instrument, rate, cycle_hours, mark_price,
			index_price, next_funding, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (venue, instrument, observed_at) DO UPDATE SET
			rate         = EXCLUDED.rate,
			cycle_hours  = EXCLUDED.cycle_hours,
			mark_price   = EXCLUDED.mark_price,
			index_price  = EXCLUDED.index_price,
			next_funding = EXCLUDED.next_funding`
	for _, r := range rates {
		batch.Queue(query,
			r.Venue, r.Instrument, r.Rate, r.CycleHours,
			r.MarkPrice, r.IndexPrice, r.NextFunding, r.ObservedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: batch upsert funding rates: %w", err)
		}
	}
	return nil
}

// GetLatest returns the newest snapshot per (venue, instrument) pair matching
// the query, excluding snapshots older than the staleness bound.
func (s *FundingRateStore) GetLatest(ctx context.Context, q domain.RateQuery) ([]domain.FundingRate, error) {
	maxAge := q.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	query := `SELECT DISTINCT ON (venue, instrument) ` + rateSelectCols + `
		FROM funding_rates WHERE observed_at >= $1`
	args := []any{cutoff}
	argIdx := 2

	if q.Instrument != "" {
		query += fmt.Sprintf(" AND instrument = $%d", argIdx)
		args = append(args, q.Instrument)
		argIdx++
	}
	if q.Venue != "" {
		query += fmt.Sprintf(" AND venue = $%d", argIdx)
		args = append(args, q.Venue)
	}
	query += " ORDER BY venue, instrument, observed_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get latest funding rates: %w", err)
	}
	defer rows.Close()

	rates, err := scanRateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding rates: %w", err)
	}
	return rates, nil
}

// GetLatestForInstrumentAndVenue returns the single newest snapshot for one
// pair, regardless of age.
func (s *FundingRateStore) GetLatestForInstrumentAndVenue(ctx context.Context, instrument, venue string) (domain.FundingRate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rateSelectCols+` FROM funding_rates
		 WHERE instrument = $1 AND venue = $2
		 ORDER BY observed_at DESC LIMIT 1`, instrument, venue)

	var r domain.FundingRate
	err := row.Scan(
		&r.Venue, &r.Instrument, &r.Rate, &r.CycleHours,
		&r.MarkPrice, &r.IndexPrice, &r.NextFunding, &r.ObservedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("postgres: get funding rate %s/%s: %w", instrument, venue, err)
	}
	return r, nil
}

// GetHistorical returns snapshots for one pair over the trailing window,
// oldest first.
func (s *FundingRateStore) GetHistorical(ctx context.Context, instrument, venue string, hours int) ([]domain.FundingRate, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	rows, err := s.pool.Query(ctx,
		`SELECT `+rateSelectCols+` FROM funding_rates
		 WHERE instrument = $1 AND venue = $2 AND observed_at >= $3
		 ORDER BY observed_at ASC`, instrument, venue, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: get historical funding rates: %w", err)
	}
	defer rows.Close()

	rates, err := scanRateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan historical funding rates: %w", err)
	}
	return rates, nil
}

// ListBefore returns up to limit snapshots observed before the cutoff, oldest
// first. Used by the archiver to page through cold history.
func (s *FundingRateStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FundingRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rateSelectCols+` FROM funding_rates
		 WHERE observed_at < $1
		 ORDER BY observed_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding rates before %s: %w", cutoff, err)
	}
	defer rows.Close()

	rates, err := scanRateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding rates: %w", err)
	}
	return rates, nil
}

// DeleteBefore drops snapshots observed before the cutoff and returns the
// number of rows removed.
func (s *FundingRateStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM funding_rates WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete funding rates before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
