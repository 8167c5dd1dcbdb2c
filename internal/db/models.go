package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderStatus enumerates the payment order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// SubscriptionStatus enumerates subscription states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "ACTIVE"
	SubscriptionStatusExpired SubscriptionStatus = "EXPIRED"
)

// Plan is a purchasable subscription plan. Price is stored in minor units of
// the base currency; changes to price or duration never touch existing orders.
type Plan struct {
	ID           pgtype.UUID
	Name         string
	PriceCents   int64
	DurationDays int32
	Active       bool
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// PaymentOrder is one row of the order ledger. OrderNo doubles as the
// idempotency key shared with the provider. Rows are never deleted.
type PaymentOrder struct {
	ID              pgtype.UUID
	OrderNo         string
	UserID          pgtype.UUID
	PlanID          pgtype.UUID
	AmountCents     int64
	Currency        string
	Provider        string
	ProviderRef     pgtype.Text
	Status          OrderStatus
	PaidAt          pgtype.Timestamptz
	ProviderPayload []byte
	SubscriptionID  pgtype.UUID
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

// Subscription is the single validity window per user.
type Subscription struct {
	ID              pgtype.UUID
	UserID          pgtype.UUID
	PlanID          pgtype.UUID
	StartAt         pgtype.Timestamptz
	EndAt           pgtype.Timestamptz
	Status          SubscriptionStatus
	PaymentProvider string
	AutoRenew       bool
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

// RedemptionCode is a one-shot activation code for a plan.
type RedemptionCode struct {
	ID        pgtype.UUID
	Code      string
	PlanID    pgtype.UUID
	Used      bool
	UsedBy    pgtype.UUID
	UsedAt    pgtype.Timestamptz
	ExpiresAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

// DomainEvent is one persisted entry of the billing event feed.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}
