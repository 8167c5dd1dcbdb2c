package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
	"github.com/inkwell-labs/billing-api/internal/subscription"
)

// Settlement outcomes, used as webhook metric labels.
const (
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	OutcomeUnknown   = "unknown_order"
	OutcomeFailed    = "failed"
	OutcomeIgnored   = "ignored"
)

// Querier is the store slice settlement needs. WithTx rebinds it to a
// transaction so the status flip, the window extension, and the link update
// commit or roll back together.
type Querier interface {
	subscription.ExtendQuerier
	GetOrderByNo(ctx context.Context, orderNo string) (db.PaymentOrder, error)
	GetPlan(ctx context.Context, id pgtype.UUID) (db.Plan, error)
	CompleteOrderIfPending(ctx context.Context, arg db.CompleteOrderIfPendingParams) (db.PaymentOrder, error)
	FailOrderIfPending(ctx context.Context, arg db.FailOrderIfPendingParams) (int64, error)
	LinkOrderSubscription(ctx context.Context, arg db.LinkOrderSubscriptionParams) error
	WithTx(tx pgx.Tx) Querier
}

// StoreQuerier adapts *db.Store to the Querier interface.
type StoreQuerier struct {
	*db.Store
}

// WithTx rebinds the underlying store to a transaction.
func (s StoreQuerier) WithTx(tx pgx.Tx) Querier {
	return StoreQuerier{Store: s.Store.WithTx(tx)}
}

// TxBeginner opens transactions. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Settler applies verified provider notifications to the order ledger and
// the subscription window. Safe under at-least-once delivery: the
// idempotency guard and the status write are a single conditional UPDATE.
type Settler struct {
	DB      TxBeginner
	Store   Querier
	Manager *subscription.Manager
	Bus     *events.Bus
	Logger  zerolog.Logger
}

// Complete settles a paid notification. Duplicate deliveries and unknown
// orders return a nil error with the matching outcome so adapters ack them;
// a non-nil error means the provider should redeliver.
func (s *Settler) Complete(ctx context.Context, note Notification) (string, error) {
	order, err := s.Store.GetOrderByNo(ctx, note.OrderNo)
	if errors.Is(err, pgx.ErrNoRows) {
		s.Logger.Warn().Str("order_no", note.OrderNo).Msg("webhook for unknown order")
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", note.OrderNo, err)
	}
	if order.Status == db.OrderStatusCompleted {
		return OutcomeDuplicate, nil
	}

	plan, err := s.Store.GetPlan(ctx, order.PlanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", common.IntegrityError(fmt.Sprintf("order %s references missing plan", note.OrderNo), err)
	}
	if err != nil {
		return "", fmt.Errorf("load plan for order %s: %w", note.OrderNo, err)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)
	q := s.Store.WithTx(tx)

	updated, err := q.CompleteOrderIfPending(ctx, db.CompleteOrderIfPendingParams{
		OrderNo:         note.OrderNo,
		ProviderRef:     note.ProviderRef,
		PaidAt:          note.PaidAt,
		ProviderPayload: note.RawPayload,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to another delivery or to a cancel. Re-read to tell
		// the idempotent duplicate from the genuine conflict.
		return s.resolveNotPending(ctx, note.OrderNo)
	}
	if err != nil {
		return "", fmt.Errorf("complete order %s: %w", note.OrderNo, err)
	}

	sub, mode, err := s.Manager.Extend(ctx, q, subscription.ExtendParams{
		UserID:   updated.UserID,
		Plan:     plan,
		Provider: updated.Provider,
		Funding:  "paid",
	})
	if err != nil {
		return "", fmt.Errorf("extend subscription for order %s: %w", note.OrderNo, err)
	}

	if err := q.LinkOrderSubscription(ctx, db.LinkOrderSubscriptionParams{
		OrderID:        updated.ID,
		SubscriptionID: sub.ID,
	}); err != nil {
		return "", fmt.Errorf("link order %s to subscription: %w", note.OrderNo, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit settlement for order %s: %w", note.OrderNo, err)
	}

	s.Logger.Info().
		Str("order_no", note.OrderNo).
		Str("provider", updated.Provider).
		Str("mode", mode).
		Msg("order settled")

	s.Bus.Publish(ctx, events.TopicOrderPaid, updated.ID, map[string]any{
		"orderNo":  updated.OrderNo,
		"userId":   db.UUIDString(updated.UserID),
		"provider": updated.Provider,
		"amount":   updated.AmountCents,
		"currency": updated.Currency,
	})
	s.Bus.Publish(ctx, events.TopicSubscriptionExtended, sub.ID, map[string]any{
		"userId": db.UUIDString(sub.UserID),
		"planId": db.UUIDString(sub.PlanID),
		"mode":   mode,
		"endAt":  sub.EndAt.Time,
	})

	return OutcomeCompleted, nil
}

func (s *Settler) resolveNotPending(ctx context.Context, orderNo string) (string, error) {
	current, err := s.Store.GetOrderByNo(ctx, orderNo)
	if err != nil {
		return "", fmt.Errorf("re-read order %s: %w", orderNo, err)
	}
	if current.Status == db.OrderStatusCompleted {
		return OutcomeDuplicate, nil
	}
	s.Logger.Warn().
		Str("order_no", orderNo).
		Str("status", string(current.Status)).
		Msg("paid webhook for order no longer pending")
	return OutcomeConflict, nil
}

// Fail records a terminal non-paid notification. Orders already out of
// PENDING are left untouched.
func (s *Settler) Fail(ctx context.Context, note Notification) (string, error) {
	affected, err := s.Store.FailOrderIfPending(ctx, db.FailOrderIfPendingParams{
		OrderNo:         note.OrderNo,
		ProviderPayload: note.RawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("fail order %s: %w", note.OrderNo, err)
	}
	if affected == 0 {
		return OutcomeIgnored, nil
	}

	order, err := s.Store.GetOrderByNo(ctx, note.OrderNo)
	if err == nil {
		s.Bus.Publish(ctx, events.TopicOrderFailed, order.ID, map[string]any{
			"orderNo":  order.OrderNo,
			"userId":   db.UUIDString(order.UserID),
			"provider": order.Provider,
		})
	}
	s.Logger.Info().Str("order_no", note.OrderNo).Msg("order marked failed")
	return OutcomeFailed, nil
}
