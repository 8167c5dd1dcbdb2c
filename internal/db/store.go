package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx, and *pgx.Conn.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store executes billing queries against the provided connection source.
type Store struct {
	db DBTX
}

// New constructs a Store.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const planColumns = `id, name, price_cents, duration_days, active, created_at, updated_at`

func scanPlan(row pgx.Row) (Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.DurationDays, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id pgtype.UUID) (Plan, error) {
	row := s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// ListActivePlans returns plans available for checkout, cheapest first.
func (s *Store) ListActivePlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM plans WHERE active ORDER BY price_cents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

const orderColumns = `id, order_no, user_id, plan_id, amount_cents, currency, provider, provider_ref,
	status, paid_at, provider_payload, subscription_id, created_at, updated_at`

func scanOrder(row pgx.Row) (PaymentOrder, error) {
	var o PaymentOrder
	err := row.Scan(&o.ID, &o.OrderNo, &o.UserID, &o.PlanID, &o.AmountCents, &o.Currency, &o.Provider,
		&o.ProviderRef, &o.Status, &o.PaidAt, &o.ProviderPayload, &o.SubscriptionID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateOrderParams carries the fields persisted at checkout time.
type CreateOrderParams struct {
	OrderNo     string
	UserID      pgtype.UUID
	PlanID      pgtype.UUID
	AmountCents int64
	Currency    string
	Provider    string
}

// CreateOrder inserts a PENDING order with no provider reference yet.
func (s *Store) CreateOrder(ctx context.Context, arg CreateOrderParams) (PaymentOrder, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO payment_orders (order_no, user_id, plan_id, amount_cents, currency, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		RETURNING `+orderColumns,
		arg.OrderNo, arg.UserID, arg.PlanID, arg.AmountCents, arg.Currency, arg.Provider)
	return scanOrder(row)
}

// InsertCompletedOrderParams describes a synthetic order recorded at redemption time.
type InsertCompletedOrderParams struct {
	OrderNo        string
	UserID         pgtype.UUID
	PlanID         pgtype.UUID
	Currency       string
	Provider       string
	PaidAt         time.Time
	SubscriptionID pgtype.UUID
}

// InsertCompletedOrder records a zero-amount COMPLETED order so redeemed
// periods appear in the same ledger as paid ones.
func (s *Store) InsertCompletedOrder(ctx context.Context, arg InsertCompletedOrderParams) (PaymentOrder, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO payment_orders (order_no, user_id, plan_id, amount_cents, currency, provider, status, paid_at, subscription_id)
		VALUES ($1, $2, $3, 0, $4, $5, 'COMPLETED', $6, $7)
		RETURNING `+orderColumns,
		arg.OrderNo, arg.UserID, arg.PlanID, arg.Currency, arg.Provider, arg.PaidAt, arg.SubscriptionID)
	return scanOrder(row)
}

// GetOrderByNo returns an order by its order number.
func (s *Store) GetOrderByNo(ctx context.Context, orderNo string) (PaymentOrder, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE order_no = $1`, orderNo)
	return scanOrder(row)
}

// ListOrdersForUserParams pages a user's ledger.
type ListOrdersForUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

// ListOrdersForUser returns a user's orders, newest first.
func (s *Store) ListOrdersForUser(ctx context.Context, arg ListOrdersForUserParams) ([]PaymentOrder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM payment_orders
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PaymentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountOrdersForUser counts a user's ledger entries.
func (s *Store) CountOrdersForUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM payment_orders WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

// SetOrderProviderRefParams attaches the external session reference to an order.
type SetOrderProviderRefParams struct {
	OrderNo     string
	ProviderRef string
}

// SetOrderProviderRef stores the provider reference returned at session
// creation. Best-effort from the caller's perspective: the callback path
// matches orders by order_no, not by this reference.
func (s *Store) SetOrderProviderRef(ctx context.Context, arg SetOrderProviderRefParams) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payment_orders SET provider_ref = $2, updated_at = now()
		WHERE order_no = $1`,
		arg.OrderNo, arg.ProviderRef)
	return err
}

// CompleteOrderIfPendingParams carries the verified callback data applied to an order.
type CompleteOrderIfPendingParams struct {
	OrderNo         string
	ProviderRef     string
	PaidAt          time.Time
	ProviderPayload []byte
}

// CompleteOrderIfPending transitions PENDING -> COMPLETED with a conditional
// update. Returning pgx.ErrNoRows means the order was not PENDING; callers
// distinguish the idempotent duplicate from a genuine conflict by re-reading.
func (s *Store) CompleteOrderIfPending(ctx context.Context, arg CompleteOrderIfPendingParams) (PaymentOrder, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'COMPLETED', provider_ref = $2, paid_at = $3, provider_payload = $4, updated_at = now()
		WHERE order_no = $1 AND status = 'PENDING'
		RETURNING `+orderColumns,
		arg.OrderNo, arg.ProviderRef, arg.PaidAt, arg.ProviderPayload)
	return scanOrder(row)
}

// FailOrderIfPendingParams marks an order failed from a terminal provider notification.
type FailOrderIfPendingParams struct {
	OrderNo         string
	ProviderPayload []byte
}

// FailOrderIfPending transitions PENDING -> FAILED conditionally.
func (s *Store) FailOrderIfPending(ctx context.Context, arg FailOrderIfPendingParams) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'FAILED', provider_payload = $2, updated_at = now()
		WHERE order_no = $1 AND status = 'PENDING'`,
		arg.OrderNo, arg.ProviderPayload)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelOrderIfPending transitions PENDING -> CANCELLED conditionally.
// Zero rows affected means completion (or an earlier cancel) won the race.
func (s *Store) CancelOrderIfPending(ctx context.Context, orderNo string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_orders SET status = 'CANCELLED', updated_at = now()
		WHERE order_no = $1 AND status = 'PENDING'`,
		orderNo)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LinkOrderSubscriptionParams ties a completed order to the subscription it funded.
type LinkOrderSubscriptionParams struct {
	OrderID        pgtype.UUID
	SubscriptionID pgtype.UUID
}

// LinkOrderSubscription records which subscription window an order funded.
func (s *Store) LinkOrderSubscription(ctx context.Context, arg LinkOrderSubscriptionParams) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payment_orders SET subscription_id = $2, updated_at = now() WHERE id = $1`,
		arg.OrderID, arg.SubscriptionID)
	return err
}

const subscriptionColumns = `id, user_id, plan_id, start_at, end_at, status, payment_provider, auto_renew, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.StartAt, &sub.EndAt, &sub.Status,
		&sub.PaymentProvider, &sub.AutoRenew, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

// GetSubscriptionForUser returns the user's subscription row if one exists.
func (s *Store) GetSubscriptionForUser(ctx context.Context, userID pgtype.UUID) (Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

// GetSubscriptionForUserForUpdate locks the row for the duration of the
// caller's transaction so concurrent extensions serialise.
func (s *Store) GetSubscriptionForUserForUpdate(ctx context.Context, userID pgtype.UUID) (Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID)
	return scanSubscription(row)
}

// InsertSubscriptionParams creates the first window for a user.
type InsertSubscriptionParams struct {
	UserID          pgtype.UUID
	PlanID          pgtype.UUID
	StartAt         time.Time
	EndAt           time.Time
	PaymentProvider string
}

// InsertSubscription creates a new ACTIVE subscription row.
func (s *Store) InsertSubscription(ctx context.Context, arg InsertSubscriptionParams) (Subscription, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, plan_id, start_at, end_at, status, payment_provider)
		VALUES ($1, $2, $3, $4, 'ACTIVE', $5)
		RETURNING `+subscriptionColumns,
		arg.UserID, arg.PlanID, arg.StartAt, arg.EndAt, arg.PaymentProvider)
	return scanSubscription(row)
}

// UpdateSubscriptionWindowParams rewrites the validity window on extension.
type UpdateSubscriptionWindowParams struct {
	ID              pgtype.UUID
	PlanID          pgtype.UUID
	StartAt         time.Time
	EndAt           time.Time
	PaymentProvider string
}

// UpdateSubscriptionWindow applies a stacked or reset window and reactivates the row.
func (s *Store) UpdateSubscriptionWindow(ctx context.Context, arg UpdateSubscriptionWindowParams) (Subscription, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, start_at = $3, end_at = $4, status = 'ACTIVE', payment_provider = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		arg.ID, arg.PlanID, arg.StartAt, arg.EndAt, arg.PaymentProvider)
	return scanSubscription(row)
}

// ExpireSubscriptionIfElapsed flips ACTIVE -> EXPIRED once the window has
// passed. Conditional so a concurrent extension is never clobbered.
func (s *Store) ExpireSubscriptionIfElapsed(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'EXPIRED', updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE' AND end_at <= now()`,
		id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const codeColumns = `id, code, plan_id, used, used_by, used_at, expires_at, created_at`

func scanCode(row pgx.Row) (RedemptionCode, error) {
	var c RedemptionCode
	err := row.Scan(&c.ID, &c.Code, &c.PlanID, &c.Used, &c.UsedBy, &c.UsedAt, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

// GetRedemptionCode returns a code row by its code string.
func (s *Store) GetRedemptionCode(ctx context.Context, code string) (RedemptionCode, error) {
	row := s.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM redemption_codes WHERE code = $1`, code)
	return scanCode(row)
}

// ConsumeRedemptionCodeParams marks a code consumed by a user.
type ConsumeRedemptionCodeParams struct {
	Code   string
	UsedBy pgtype.UUID
}

// ConsumeRedemptionCode flips used=false -> true conditionally. pgx.ErrNoRows
// means the code was already consumed: exactly one of two concurrent
// redemptions can succeed.
func (s *Store) ConsumeRedemptionCode(ctx context.Context, arg ConsumeRedemptionCodeParams) (RedemptionCode, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE redemption_codes SET used = true, used_by = $2, used_at = now()
		WHERE code = $1 AND used = false
		RETURNING `+codeColumns,
		arg.Code, arg.UsedBy)
	return scanCode(row)
}

// InsertDomainEventParams appends to the billing event feed.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

// InsertDomainEvent persists one domain event.
func (s *Store) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		arg.Topic, arg.AggregateID, arg.Payload)
	var ev DomainEvent
	err := row.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
