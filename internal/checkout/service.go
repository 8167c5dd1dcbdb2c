package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
	"github.com/inkwell-labs/billing-api/internal/obs"
	"github.com/inkwell-labs/billing-api/internal/order"
	"github.com/inkwell-labs/billing-api/internal/payment"
)

// Querier is the store slice checkout needs.
type Querier interface {
	GetPlan(ctx context.Context, id pgtype.UUID) (db.Plan, error)
	CreateOrder(ctx context.Context, arg db.CreateOrderParams) (db.PaymentOrder, error)
	SetOrderProviderRef(ctx context.Context, arg db.SetOrderProviderRefParams) error
}

// Result is what the caller needs to send the shopper onward.
type Result struct {
	OrderNo  string
	Amount   int64
	Currency string
	PayURL   string
	QRCode   string
}

// Service opens payment orders against an external provider.
type Service struct {
	Store           Querier
	Registry        *payment.Registry
	BaseCurrency    string
	FXRates         map[string]float64
	ProviderTimeout time.Duration
	Bus             *events.Bus
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Checkout creates a PENDING order and opens the provider-side charge.
// The order row is written first: if the provider call fails the row stays
// PENDING and the shopper can retry or cancel.
func (s *Service) Checkout(ctx context.Context, userID pgtype.UUID, planID, providerName, payerHint string) (Result, error) {
	planUUID, err := db.ToUUID(planID)
	if err != nil {
		return Result{}, common.ValidationError("invalid plan id", err)
	}

	plan, err := s.Store.GetPlan(ctx, planUUID)
	if errors.Is(err, pgx.ErrNoRows) {
		s.observe(providerName, "plan_not_found")
		return Result{}, common.NotFoundError("plan not found", err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load plan: %w", err)
	}
	if !plan.Active {
		s.observe(providerName, "plan_not_found")
		return Result{}, common.NotFoundError("plan not found", nil)
	}

	provider, err := s.Registry.Resolve(providerName)
	if err != nil {
		s.observe(providerName, "unsupported_provider")
		return Result{}, common.ValidationError("unsupported payment provider", err)
	}

	amount, currency, err := s.convert(plan.PriceCents, provider.Currency())
	if err != nil {
		return Result{}, err
	}

	orderNo := order.NewNumber(s.Now())
	row, err := s.Store.CreateOrder(ctx, db.CreateOrderParams{
		OrderNo:     orderNo,
		UserID:      userID,
		PlanID:      plan.ID,
		AmountCents: amount,
		Currency:    currency,
		Provider:    provider.Name(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	callCtx := ctx
	if s.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.ProviderTimeout)
		defer cancel()
	}
	created, err := provider.CreateOrder(callCtx, payment.CreateOrderRequest{
		OrderNo:     orderNo,
		Amount:      amount,
		Currency:    currency,
		Description: plan.Name,
		PayerHint:   payerHint,
	})
	if err != nil {
		s.observe(provider.Name(), "provider_error")
		if errors.Is(err, payment.ErrProviderConfig) {
			return Result{}, common.NewAppError(common.CodeInternal, "payment provider unavailable", http.StatusInternalServerError, err)
		}
		return Result{}, common.ProviderError("payment provider unavailable", err)
	}

	if created.ProviderRef != "" {
		if err := s.Store.SetOrderProviderRef(ctx, db.SetOrderProviderRefParams{
			OrderNo:     orderNo,
			ProviderRef: created.ProviderRef,
		}); err != nil {
			// Callbacks match by order_no; losing the ref costs nothing but
			// a degraded audit trail.
			s.Logger.Warn().Err(err).Str("order_no", orderNo).Msg("provider ref persist failed")
		}
	}

	s.observe(provider.Name(), "ok")
	s.Logger.Info().
		Str("order_no", orderNo).
		Str("provider", provider.Name()).
		Int64("amount", amount).
		Str("currency", currency).
		Msg("checkout order opened")

	s.Bus.Publish(ctx, events.TopicOrderCreated, row.ID, map[string]any{
		"orderNo":  orderNo,
		"userId":   db.UUIDString(userID),
		"planId":   db.UUIDString(plan.ID),
		"provider": provider.Name(),
		"amount":   amount,
		"currency": currency,
	})

	return Result{
		OrderNo:  orderNo,
		Amount:   amount,
		Currency: currency,
		PayURL:   created.PayURL,
		QRCode:   created.QRCode,
	}, nil
}

// convert maps the plan price from the base currency into the provider's
// settlement currency at the fixed configured rate.
func (s *Service) convert(priceCents int64, currency string) (int64, string, error) {
	if currency == s.BaseCurrency {
		return priceCents, currency, nil
	}
	rate, ok := s.FXRates[currency]
	if !ok || rate <= 0 {
		return 0, "", common.IntegrityError(fmt.Sprintf("no fx rate configured for %s", currency), nil)
	}
	return int64(math.Round(float64(priceCents) * rate)), currency, nil
}

func (s *Service) observe(provider, result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(provider, result).Inc()
	}
}
