package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydesk/carrybot/internal/domain"
)

type fakeIngestConnector struct {
	domain.Connector
	name  string
	rates []domain.FundingRate
	err   error
}

func (c *fakeIngestConnector) Name() string { return c.name }

func (c *fakeIngestConnector) FundingRates(_ context.Context, _ []string) ([]domain.FundingRate, error) {
	return c.rates, c.err
}

type fakeIngestStore struct {
	domain.FundingRateStore
	mu       sync.Mutex
	upserted []domain.FundingRate
}

func (s *fakeIngestStore) UpsertBatch(_ context.Context, rates []domain.FundingRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, rates...)
	return nil
}

type fakeBus struct {
	domain.SignalBus
	published int
}

func (b *fakeBus) Publish(_ context.Context, _ string, _ []byte) error {
	b.published++
	return nil
}

type fakeLimiter struct {
	allow bool
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return l.allow, nil
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleRate(venue string) domain.FundingRate {
	return domain.FundingRate{
		Venue:      venue,
		Instrument: "ETH-PERP",
		Rate:       0.0001,
		CycleHours: 1,
		MarkPrice:  1000,
		ObservedAt: time.Now().UTC(),
	}
}

func TestIngestJob_PersistsAndPublishes(t *testing.T) {
	store := &fakeIngestStore{}
	bus := &fakeBus{}
	job := NewIngestJob(
		[]domain.Connector{
			&fakeIngestConnector{name: "vest", rates: []domain.FundingRate{sampleRate("vest")}},
			&fakeIngestConnector{name: "bitmara", rates: []domain.FundingRate{sampleRate("bitmara")}},
		},
		store, nil, bus, nil,
		IngestConfig{Interval: time.Minute},
		discard(),
	)

	res := job.RunOnce(context.Background())
	require.True(t, res.Success, "message=%s err=%v", res.Message, res.Err)
	assert.Len(t, store.upserted, 2)
	assert.Equal(t, 1, bus.published)
	assert.Equal(t, 2, res.Data["snapshots"])
}

func TestIngestJob_OneVenueFailingIsPartialSuccess(t *testing.T) {
	store := &fakeIngestStore{}
	job := NewIngestJob(
		[]domain.Connector{
			&fakeIngestConnector{name: "vest", err: errors.New("api down")},
			&fakeIngestConnector{name: "bitmara", rates: []domain.FundingRate{sampleRate("bitmara")}},
		},
		store, nil, nil, nil,
		IngestConfig{Interval: time.Minute},
		discard(),
	)

	res := job.RunOnce(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Data["venues_failed"])
	assert.Len(t, store.upserted, 1)
}

func TestIngestJob_AllVenuesFailingFailsThePass(t *testing.T) {
	job := NewIngestJob(
		[]domain.Connector{
			&fakeIngestConnector{name: "vest", err: errors.New("down")},
			&fakeIngestConnector{name: "bitmara", err: errors.New("down")},
		},
		&fakeIngestStore{}, nil, nil, nil,
		IngestConfig{Interval: time.Minute},
		discard(),
	)

	res := job.RunOnce(context.Background())
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestIngestJob_RespectsRequestBudget(t *testing.T) {
	store := &fakeIngestStore{}
	job := NewIngestJob(
		[]domain.Connector{
			&fakeIngestConnector{name: "vest", rates: []domain.FundingRate{sampleRate("vest")}},
		},
		store, nil, nil, &fakeLimiter{allow: false},
		IngestConfig{Interval: time.Minute, RequestLimit: 10},
		discard(),
	)

	res := job.RunOnce(context.Background())
	// The single venue was budget-blocked, so the whole pass fails.
	assert.False(t, res.Success)
	assert.Empty(t, store.upserted)
}

// countingJob counts its passes; used for scheduler behavior.
type countingJob struct {
	mu    sync.Mutex
	runs  int
	every time.Duration
}

func (j *countingJob) Name() string            { return "counting" }
func (j *countingJob) Interval() time.Duration { return j.every }

func (j *countingJob) RunOnce(_ context.Context) Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return Result{Success: true}
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

type heldLockManager struct{}

func (heldLockManager) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type brokenLockManager struct{}

func (brokenLockManager) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return nil, errors.New("redis unreachable")
}

func TestScheduler_RunsImmediatePass(t *testing.T) {
	job := &countingJob{every: time.Hour}
	s := NewScheduler([]Job{job}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 1, job.count())
}

func TestScheduler_HeldLockSkipsPass(t *testing.T) {
	job := &countingJob{every: time.Hour}
	s := NewScheduler([]Job{job}, heldLockManager{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	require.NoError(t, s.Run(ctx))

	assert.Zero(t, job.count())
}

func TestScheduler_BrokenLockBackendRunsUnguarded(t *testing.T) {
	job := &countingJob{every: time.Hour}
	s := NewScheduler([]Job{job}, brokenLockManager{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 1, job.count())
}
