package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/billing-api/internal/db"
)

type extendStub struct {
	current    db.Subscription
	currentErr error
	inserted   *db.InsertSubscriptionParams
	updated    *db.UpdateSubscriptionWindowParams
}

func (s *extendStub) GetSubscriptionForUserForUpdate(context.Context, pgtype.UUID) (db.Subscription, error) {
	return s.current, s.currentErr
}

func (s *extendStub) InsertSubscription(_ context.Context, arg db.InsertSubscriptionParams) (db.Subscription, error) {
	s.inserted = &arg
	return db.Subscription{
		ID:      db.NewUUID(),
		UserID:  arg.UserID,
		PlanID:  arg.PlanID,
		StartAt: pgtype.Timestamptz{Time: arg.StartAt, Valid: true},
		EndAt:   pgtype.Timestamptz{Time: arg.EndAt, Valid: true},
		Status:  db.SubscriptionStatusActive,
	}, nil
}

func (s *extendStub) UpdateSubscriptionWindow(_ context.Context, arg db.UpdateSubscriptionWindowParams) (db.Subscription, error) {
	s.updated = &arg
	return db.Subscription{
		ID:      arg.ID,
		UserID:  s.current.UserID,
		PlanID:  arg.PlanID,
		StartAt: pgtype.Timestamptz{Time: arg.StartAt, Valid: true},
		EndAt:   pgtype.Timestamptz{Time: arg.EndAt, Valid: true},
		Status:  db.SubscriptionStatusActive,
	}, nil
}

func testManager(now time.Time) *Manager {
	return &Manager{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return now },
	}
}

func testPlan(days int32) db.Plan {
	return db.Plan{ID: db.NewUUID(), Name: "monthly", PriceCents: 999, DurationDays: days, Active: true}
}

func TestExtendCreatesFirstWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &extendStub{currentErr: pgx.ErrNoRows}

	sub, mode, err := testManager(now).Extend(context.Background(), stub, ExtendParams{
		UserID:   db.NewUUID(),
		Plan:     testPlan(30),
		Provider: "midtrans",
		Funding:  "paid",
	})
	require.NoError(t, err)
	assert.Equal(t, ModeNew, mode)
	require.NotNil(t, stub.inserted)
	assert.Equal(t, now, stub.inserted.StartAt)
	assert.Equal(t, now.AddDate(0, 0, 30), stub.inserted.EndAt)
	assert.Equal(t, db.SubscriptionStatusActive, sub.Status)
}

func TestExtendStacksOntoActiveWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -10)
	end := now.AddDate(0, 0, 20)
	stub := &extendStub{current: db.Subscription{
		ID:      db.NewUUID(),
		UserID:  db.NewUUID(),
		Status:  db.SubscriptionStatusActive,
		StartAt: pgtype.Timestamptz{Time: start, Valid: true},
		EndAt:   pgtype.Timestamptz{Time: end, Valid: true},
	}}

	_, mode, err := testManager(now).Extend(context.Background(), stub, ExtendParams{
		UserID:  stub.current.UserID,
		Plan:    testPlan(30),
		Funding: "paid",
	})
	require.NoError(t, err)
	assert.Equal(t, ModeStack, mode)
	require.NotNil(t, stub.updated)
	assert.Equal(t, start, stub.updated.StartAt, "stacking keeps the original start")
	assert.Equal(t, end.Add(30*24*time.Hour), stub.updated.EndAt, "stacking appends the full duration")
}

func TestExtendResetsExpiredWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &extendStub{current: db.Subscription{
		ID:      db.NewUUID(),
		Status:  db.SubscriptionStatusExpired,
		StartAt: pgtype.Timestamptz{Time: now.AddDate(0, 0, -60), Valid: true},
		EndAt:   pgtype.Timestamptz{Time: now.AddDate(0, 0, -30), Valid: true},
	}}

	_, mode, err := testManager(now).Extend(context.Background(), stub, ExtendParams{
		Plan:    testPlan(30),
		Funding: "redemption",
	})
	require.NoError(t, err)
	assert.Equal(t, ModeReset, mode)
	require.NotNil(t, stub.updated)
	assert.Equal(t, now, stub.updated.StartAt)
	assert.Equal(t, now.Add(30*24*time.Hour), stub.updated.EndAt)
}

func TestExtendResetsActiveButElapsedWindow(t *testing.T) {
	// Status still reads ACTIVE because expiry is lazy; the elapsed end date
	// decides, not the status column.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &extendStub{current: db.Subscription{
		ID:      db.NewUUID(),
		Status:  db.SubscriptionStatusActive,
		StartAt: pgtype.Timestamptz{Time: now.AddDate(0, 0, -40), Valid: true},
		EndAt:   pgtype.Timestamptz{Time: now.AddDate(0, 0, -2), Valid: true},
	}}

	_, mode, err := testManager(now).Extend(context.Background(), stub, ExtendParams{
		Plan:    testPlan(7),
		Funding: "paid",
	})
	require.NoError(t, err)
	assert.Equal(t, ModeReset, mode)
	assert.Equal(t, now.Add(7*24*time.Hour), stub.updated.EndAt)
}

type readStub struct {
	sub     db.Subscription
	subErr  error
	expired []pgtype.UUID
}

func (s *readStub) GetSubscriptionForUser(context.Context, pgtype.UUID) (db.Subscription, error) {
	return s.sub, s.subErr
}

func (s *readStub) ExpireSubscriptionIfElapsed(_ context.Context, id pgtype.UUID) (int64, error) {
	s.expired = append(s.expired, id)
	return 1, nil
}

func TestCurrentFlipsElapsedWindowLazily(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &readStub{sub: db.Subscription{
		ID:     db.NewUUID(),
		Status: db.SubscriptionStatusActive,
		EndAt:  pgtype.Timestamptz{Time: now.Add(-time.Hour), Valid: true},
	}}
	svc := &Service{Store: stub, Logger: zerolog.Nop(), Now: func() time.Time { return now }}

	sub, err := svc.Current(context.Background(), db.NewUUID())
	require.NoError(t, err)
	assert.Equal(t, db.SubscriptionStatusExpired, sub.Status)
	assert.Len(t, stub.expired, 1)
}

func TestCurrentLeavesLiveWindowAlone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &readStub{sub: db.Subscription{
		ID:     db.NewUUID(),
		Status: db.SubscriptionStatusActive,
		EndAt:  pgtype.Timestamptz{Time: now.Add(time.Hour), Valid: true},
	}}
	svc := &Service{Store: stub, Logger: zerolog.Nop(), Now: func() time.Time { return now }}

	sub, err := svc.Current(context.Background(), db.NewUUID())
	require.NoError(t, err)
	assert.Equal(t, db.SubscriptionStatusActive, sub.Status)
	assert.Empty(t, stub.expired)
}

func TestCurrentReportsMissingSubscription(t *testing.T) {
	stub := &readStub{subErr: pgx.ErrNoRows}
	svc := &Service{Store: stub, Logger: zerolog.Nop(), Now: time.Now}

	_, err := svc.Current(context.Background(), db.NewUUID())
	assert.ErrorIs(t, err, ErrNoSubscription)
}
