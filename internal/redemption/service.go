package redemption

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
	"github.com/inkwell-labs/billing-api/internal/obs"
	"github.com/inkwell-labs/billing-api/internal/order"
	"github.com/inkwell-labs/billing-api/internal/subscription"
)

// Error codes specific to redemption, all rendered as 400s.
const (
	CodeInvalid     = "INVALID_CODE"
	CodeAlreadyUsed = "CODE_ALREADY_USED"
	CodeExpired     = "CODE_EXPIRED"
)

// FundingProvider labels synthetic ledger rows created by redemptions.
const FundingProvider = "redemption"

// Querier is the store slice redemption needs. WithTx rebinds it so the
// code flip, the extension, and the synthetic order commit together.
type Querier interface {
	subscription.ExtendQuerier
	GetRedemptionCode(ctx context.Context, code string) (db.RedemptionCode, error)
	GetPlan(ctx context.Context, id pgtype.UUID) (db.Plan, error)
	ConsumeRedemptionCode(ctx context.Context, arg db.ConsumeRedemptionCodeParams) (db.RedemptionCode, error)
	InsertCompletedOrder(ctx context.Context, arg db.InsertCompletedOrderParams) (db.PaymentOrder, error)
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

// Service redeems one-time activation codes.
type Service struct {
	DB           TxBeginner
	Store        Querier
	Manager      *subscription.Manager
	BaseCurrency string
	Bus          *events.Bus
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Redeem consumes a code and grants its plan to the user. The consume, the
// window extension, and the synthetic zero-amount COMPLETED order are one
// transaction: any failure rolls everything back and leaves the code
// redeemable.
func (s *Service) Redeem(ctx context.Context, userID pgtype.UUID, rawCode string) (db.Subscription, error) {
	code := strings.TrimSpace(rawCode)
	now := s.Now().UTC()

	rc, err := s.Store.GetRedemptionCode(ctx, code)
	if errors.Is(err, pgx.ErrNoRows) {
		s.observe("invalid")
		return db.Subscription{}, common.NewAppError(CodeInvalid, "code not recognised", http.StatusBadRequest, err)
	}
	if err != nil {
		return db.Subscription{}, fmt.Errorf("load code: %w", err)
	}
	if rc.Used {
		s.observe("already_used")
		return db.Subscription{}, common.NewAppError(CodeAlreadyUsed, "code already redeemed", http.StatusBadRequest, nil)
	}
	if rc.ExpiresAt.Valid && !rc.ExpiresAt.Time.After(now) {
		s.observe("expired")
		return db.Subscription{}, common.NewAppError(CodeExpired, "code expired", http.StatusBadRequest, nil)
	}

	plan, err := s.Store.GetPlan(ctx, rc.PlanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Subscription{}, common.IntegrityError(fmt.Sprintf("code %s references missing plan", code), err)
	}
	if err != nil {
		return db.Subscription{}, fmt.Errorf("load plan for code: %w", err)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return db.Subscription{}, fmt.Errorf("begin redemption tx: %w", err)
	}
	defer tx.Rollback(ctx)
	q := s.Store.WithTx(tx)

	// The pre-checks above are advisory; this conditional update is the
	// only thing that makes double redemption impossible.
	if _, err := q.ConsumeRedemptionCode(ctx, db.ConsumeRedemptionCodeParams{
		Code:   code,
		UsedBy: userID,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.observe("already_used")
			return db.Subscription{}, common.NewAppError(CodeAlreadyUsed, "code already redeemed", http.StatusBadRequest, nil)
		}
		return db.Subscription{}, fmt.Errorf("consume code: %w", err)
	}

	sub, mode, err := s.Manager.Extend(ctx, q, subscription.ExtendParams{
		UserID:   userID,
		Plan:     plan,
		Provider: FundingProvider,
		Funding:  "redemption",
	})
	if err != nil {
		return db.Subscription{}, fmt.Errorf("extend subscription: %w", err)
	}

	synthetic, err := q.InsertCompletedOrder(ctx, db.InsertCompletedOrderParams{
		OrderNo:        order.NewNumber(now),
		UserID:         userID,
		PlanID:         plan.ID,
		Currency:       s.BaseCurrency,
		Provider:       FundingProvider,
		PaidAt:         now,
		SubscriptionID: sub.ID,
	})
	if err != nil {
		return db.Subscription{}, fmt.Errorf("record synthetic order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return db.Subscription{}, fmt.Errorf("commit redemption: %w", err)
	}

	s.observe("ok")
	s.Logger.Info().
		Str("user_id", db.UUIDString(userID)).
		Str("plan_id", db.UUIDString(plan.ID)).
		Str("order_no", synthetic.OrderNo).
		Str("mode", mode).
		Msg("code redeemed")

	s.Bus.Publish(ctx, events.TopicCodeRedeemed, rc.ID, map[string]any{
		"userId":  db.UUIDString(userID),
		"planId":  db.UUIDString(plan.ID),
		"orderNo": synthetic.OrderNo,
	})
	s.Bus.Publish(ctx, events.TopicSubscriptionExtended, sub.ID, map[string]any{
		"userId": db.UUIDString(sub.UserID),
		"planId": db.UUIDString(sub.PlanID),
		"mode":   mode,
		"endAt":  sub.EndAt.Time,
	})

	return sub, nil
}

func (s *Service) observe(result string) {
	if obs.RedemptionTotal != nil {
		obs.RedemptionTotal.WithLabelValues(result).Inc()
	}
}
