package domain

import (
	"context"
	"time"
)

// RateQuery scopes a funding-rate lookup. Zero values mean "all".
type RateQuery struct {
	Instrument string
	Venue      string
	MaxAge     time.Duration // staleness bound; 0 means the store default
}

// FundingRateStore persists funding-rate snapshots.
type FundingRateStore interface {
	Upsert(ctx context.Context, rate FundingRate) error
	UpsertBatch(ctx context.Context, rates []FundingRate) error
	GetLatest(ctx context.Context, q RateQuery) ([]FundingRate, error)
	GetLatestForInstrumentAndVenue(ctx context.Context, instrument, venue string) (FundingRate, error)
	GetHistorical(ctx context.Context, instrument, venue string, hours int) ([]FundingRate, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]FundingRate, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeStore persists trade aggregates.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	Update(ctx context.Context, t Trade) error
	UpdateStatus(ctx context.Context, id string, status TradeStatus, reason string) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByStatus(ctx context.Context, statuses ...TradeStatus) ([]Trade, error)
	ListActiveByOwner(ctx context.Context, owner string) ([]Trade, error)
	CountActiveByOwner(ctx context.Context, owner string) (int, error)
	// ListAutoCloseCandidates returns the trades a monitoring pass must
	// inspect: every OPEN trade, plus OPENING trades created at or before
	// openingCutoff (an open that old never settled and must be unwound).
	ListAutoCloseCandidates(ctx context.Context, openingCutoff time.Time) ([]Trade, error)
}

// PositionStore persists trade legs.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	UpdateStatus(ctx context.Context, id string, status TradeStatus) error
	SetVenueOrderID(ctx context.Context, id, venueOrderID string) error
	RecordError(ctx context.Context, id, message string) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByTrade(ctx context.Context, tradeID string) ([]Position, error)
	ListActiveByOwner(ctx context.Context, owner string) ([]Position, error)
	ListOrphanOpen(ctx context.Context) ([]Position, error)
}

// UserSettingsStore persists per-user trading preferences.
type UserSettingsStore interface {
	Get(ctx context.Context, userID string) (UserSettings, error)
	ListEnabled(ctx context.Context) ([]UserSettings, error)
	Upsert(ctx context.Context, s UserSettings) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
