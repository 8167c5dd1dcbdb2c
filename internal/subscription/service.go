package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/obs"
)

// Extension modes, used as metric labels and event payload fields.
const (
	ModeNew   = "new"
	ModeStack = "stack"
	ModeReset = "reset"
)

// ExtendQuerier is the slice of the store the extension algorithm touches.
// Callers pass a transaction-bound querier so the row lock spans their
// whole unit of work.
type ExtendQuerier interface {
	GetSubscriptionForUserForUpdate(ctx context.Context, userID pgtype.UUID) (db.Subscription, error)
	InsertSubscription(ctx context.Context, arg db.InsertSubscriptionParams) (db.Subscription, error)
	UpdateSubscriptionWindow(ctx context.Context, arg db.UpdateSubscriptionWindowParams) (db.Subscription, error)
}

// ExtendParams describes one funded extension.
type ExtendParams struct {
	UserID   pgtype.UUID
	Plan     db.Plan
	Provider string
	// Funding is the metric label: "paid" or "redemption".
	Funding string
}

// Manager applies the shared window arithmetic for paid completions and
// code redemptions.
type Manager struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewManager builds a Manager with the wall clock.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{Logger: logger, Now: time.Now}
}

// Extend grants plan duration to the user's subscription window:
//
//	no row                      -> create (now, now+N)
//	ACTIVE and end_at still out -> stack  (end_at += N, start unchanged)
//	anything else               -> reset  (now, now+N)
//
// The plan and funding provider are always recorded on the row. Must run
// inside the caller's transaction; the FOR UPDATE lock serialises
// concurrent extensions for the same user.
func (m *Manager) Extend(ctx context.Context, q ExtendQuerier, arg ExtendParams) (db.Subscription, string, error) {
	now := m.Now().UTC()
	duration := time.Duration(arg.Plan.DurationDays) * 24 * time.Hour

	current, err := q.GetSubscriptionForUserForUpdate(ctx, arg.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		sub, err := q.InsertSubscription(ctx, db.InsertSubscriptionParams{
			UserID:          arg.UserID,
			PlanID:          arg.Plan.ID,
			StartAt:         now,
			EndAt:           now.Add(duration),
			PaymentProvider: arg.Provider,
		})
		if err != nil {
			return db.Subscription{}, "", err
		}
		m.observe(arg, sub, ModeNew)
		return sub, ModeNew, nil
	}
	if err != nil {
		return db.Subscription{}, "", err
	}

	mode := ModeReset
	startAt := now
	endAt := now.Add(duration)
	if current.Status == db.SubscriptionStatusActive && current.EndAt.Time.After(now) {
		mode = ModeStack
		startAt = current.StartAt.Time
		endAt = current.EndAt.Time.Add(duration)
	}

	sub, err := q.UpdateSubscriptionWindow(ctx, db.UpdateSubscriptionWindowParams{
		ID:              current.ID,
		PlanID:          arg.Plan.ID,
		StartAt:         startAt,
		EndAt:           endAt,
		PaymentProvider: arg.Provider,
	})
	if err != nil {
		return db.Subscription{}, "", err
	}
	m.observe(arg, sub, mode)
	return sub, mode, nil
}

func (m *Manager) observe(arg ExtendParams, sub db.Subscription, mode string) {
	if obs.SubscriptionExtensionTotal != nil {
		obs.SubscriptionExtensionTotal.WithLabelValues(arg.Funding, mode).Inc()
	}
	m.Logger.Info().
		Str("user_id", db.UUIDString(arg.UserID)).
		Str("plan_id", db.UUIDString(arg.Plan.ID)).
		Str("mode", mode).
		Str("funding", arg.Funding).
		Time("end_at", sub.EndAt.Time).
		Msg("subscription window extended")
}

// Querier is the read-side slice the status service needs.
type Querier interface {
	GetSubscriptionForUser(ctx context.Context, userID pgtype.UUID) (db.Subscription, error)
	ExpireSubscriptionIfElapsed(ctx context.Context, id pgtype.UUID) (int64, error)
}

// Service serves subscription reads. Expiry is detected here, lazily: there
// is no background sweeper.
type Service struct {
	Store  Querier
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewService builds the read-side service.
func NewService(store Querier, logger zerolog.Logger) *Service {
	return &Service{Store: store, Logger: logger, Now: time.Now}
}

// ErrNoSubscription is returned when the user has never held a window.
var ErrNoSubscription = errors.New("subscription: none for user")

// Current returns the user's subscription, flipping an elapsed ACTIVE row
// to EXPIRED on the way out.
func (s *Service) Current(ctx context.Context, userID pgtype.UUID) (db.Subscription, error) {
	sub, err := s.Store.GetSubscriptionForUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Subscription{}, ErrNoSubscription
	}
	if err != nil {
		return db.Subscription{}, err
	}

	now := s.Now().UTC()
	if sub.Status == db.SubscriptionStatusActive && !sub.EndAt.Time.After(now) {
		if _, err := s.Store.ExpireSubscriptionIfElapsed(ctx, sub.ID); err != nil {
			// Read path stays available; the flip is retried on the next read.
			s.Logger.Warn().Err(err).Str("subscription_id", db.UUIDString(sub.ID)).Msg("lazy expiry update failed")
		} else {
			sub.Status = db.SubscriptionStatusExpired
		}
	}
	return sub, nil
}
