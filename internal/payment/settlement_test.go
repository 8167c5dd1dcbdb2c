package payment

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
	"github.com/inkwell-labs/billing-api/internal/events"
	"github.com/inkwell-labs/billing-api/internal/subscription"
)

// fakeTx satisfies pgx.Tx for the handful of calls the settler makes.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

// settleStub implements Querier in-memory.
type settleStub struct {
	order    db.PaymentOrder
	orderErr error
	plan     db.Plan

	// rereadStatus, when set, is what GetOrderByNo reports after the first
	// read. It simulates a concurrent writer landing between the pre-read
	// and the conditional update.
	rereadStatus db.OrderStatus
	reads        int

	completeErr error
	completed   *db.CompleteOrderIfPendingParams
	failedRows  int64
	failed      *db.FailOrderIfPendingParams
	linked      *db.LinkOrderSubscriptionParams

	sub db.Subscription
}

func (s *settleStub) GetOrderByNo(context.Context, string) (db.PaymentOrder, error) {
	s.reads++
	order := s.order
	if s.reads > 1 && s.rereadStatus != "" {
		order.Status = s.rereadStatus
	}
	return order, s.orderErr
}

func (s *settleStub) GetPlan(context.Context, pgtype.UUID) (db.Plan, error) {
	return s.plan, nil
}

func (s *settleStub) CompleteOrderIfPending(_ context.Context, arg db.CompleteOrderIfPendingParams) (db.PaymentOrder, error) {
	if s.completeErr != nil {
		return db.PaymentOrder{}, s.completeErr
	}
	s.completed = &arg
	updated := s.order
	updated.Status = db.OrderStatusCompleted
	return updated, nil
}

func (s *settleStub) FailOrderIfPending(_ context.Context, arg db.FailOrderIfPendingParams) (int64, error) {
	s.failed = &arg
	return s.failedRows, nil
}

func (s *settleStub) LinkOrderSubscription(_ context.Context, arg db.LinkOrderSubscriptionParams) error {
	s.linked = &arg
	return nil
}

func (s *settleStub) GetSubscriptionForUserForUpdate(context.Context, pgtype.UUID) (db.Subscription, error) {
	return db.Subscription{}, pgx.ErrNoRows
}

func (s *settleStub) InsertSubscription(_ context.Context, arg db.InsertSubscriptionParams) (db.Subscription, error) {
	s.sub = db.Subscription{
		ID:      db.NewUUID(),
		UserID:  arg.UserID,
		PlanID:  arg.PlanID,
		StartAt: pgtype.Timestamptz{Time: arg.StartAt, Valid: true},
		EndAt:   pgtype.Timestamptz{Time: arg.EndAt, Valid: true},
		Status:  db.SubscriptionStatusActive,
	}
	return s.sub, nil
}

func (s *settleStub) UpdateSubscriptionWindow(context.Context, db.UpdateSubscriptionWindowParams) (db.Subscription, error) {
	return s.sub, nil
}

func (s *settleStub) WithTx(pgx.Tx) Querier { return s }

func newSettler(stub *settleStub, fdb *fakeDB) *Settler {
	return &Settler{
		DB:      fdb,
		Store:   stub,
		Manager: &subscription.Manager{Logger: zerolog.Nop(), Now: time.Now},
		Bus:     events.NewBus(nil, nil, zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}
}

func pendingOrder() db.PaymentOrder {
	return db.PaymentOrder{
		ID:          db.NewUUID(),
		OrderNo:     "SUB-20260301120000-ab12cd34ef",
		UserID:      db.NewUUID(),
		PlanID:      db.NewUUID(),
		AmountCents: 150000,
		Currency:    "IDR",
		Provider:    "midtrans",
		Status:      db.OrderStatusPending,
	}
}

func paidNote(orderNo string) Notification {
	return Notification{
		OrderNo:     orderNo,
		ProviderRef: "mt-tx-1",
		Paid:        true,
		PaidAt:      time.Now().UTC(),
		RawPayload:  []byte(`{}`),
	}
}

func TestCompleteSettlesPendingOrder(t *testing.T) {
	stub := &settleStub{order: pendingOrder(), plan: db.Plan{ID: db.NewUUID(), DurationDays: 30}}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Complete(context.Background(), paidNote(stub.order.OrderNo))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	require.NotNil(t, stub.completed)
	assert.Equal(t, "mt-tx-1", stub.completed.ProviderRef)
	require.NotNil(t, stub.linked)
	assert.Equal(t, stub.sub.ID, stub.linked.SubscriptionID)
	assert.True(t, fdb.tx.committed)
}

func TestCompleteIsIdempotentForDuplicateDelivery(t *testing.T) {
	order := pendingOrder()
	order.Status = db.OrderStatusCompleted
	stub := &settleStub{order: order}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Complete(context.Background(), paidNote(order.OrderNo))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Nil(t, stub.completed, "duplicate must not touch the ledger")
	assert.Nil(t, fdb.tx, "duplicate short-circuits before any transaction")
}

func TestCompleteLosesCASRaceToConcurrentDelivery(t *testing.T) {
	// The pre-read still sees PENDING, but by the time the conditional
	// update runs another delivery has completed the order.
	stub := &settleStub{
		order:        pendingOrder(),
		plan:         db.Plan{ID: db.NewUUID(), DurationDays: 30},
		completeErr:  pgx.ErrNoRows,
		rereadStatus: db.OrderStatusCompleted,
	}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Complete(context.Background(), paidNote(stub.order.OrderNo))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.True(t, fdb.tx.rolledBack)
}

func TestCompleteConflictsWithCancelledOrder(t *testing.T) {
	stub := &settleStub{
		order:        pendingOrder(),
		plan:         db.Plan{ID: db.NewUUID(), DurationDays: 30},
		completeErr:  pgx.ErrNoRows,
		rereadStatus: db.OrderStatusCancelled,
	}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Complete(context.Background(), paidNote(stub.order.OrderNo))
	require.NoError(t, err, "conflicts are acked so the provider stops redelivering")
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Nil(t, stub.linked)
}

func TestCompleteAcksUnknownOrder(t *testing.T) {
	stub := &settleStub{orderErr: pgx.ErrNoRows}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Complete(context.Background(), paidNote("SUB-unknown"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
}

func TestFailMarksPendingOrder(t *testing.T) {
	stub := &settleStub{order: pendingOrder(), failedRows: 1}
	fdb := &fakeDB{}

	note := paidNote(stub.order.OrderNo)
	note.Paid = false
	note.Terminal = true
	outcome, err := newSettler(stub, fdb).Fail(context.Background(), note)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	require.NotNil(t, stub.failed)
}

func TestFailIgnoresSettledOrder(t *testing.T) {
	stub := &settleStub{order: pendingOrder(), failedRows: 0}
	fdb := &fakeDB{}

	outcome, err := newSettler(stub, fdb).Fail(context.Background(), paidNote(stub.order.OrderNo))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}
