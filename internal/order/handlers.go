package order

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
)

// Querier is the store slice the ledger endpoints need.
type Querier interface {
	GetOrderByNo(ctx context.Context, orderNo string) (db.PaymentOrder, error)
	ListOrdersForUser(ctx context.Context, arg db.ListOrdersForUserParams) ([]db.PaymentOrder, error)
	CountOrdersForUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	CancelOrderIfPending(ctx context.Context, orderNo string) (int64, error)
}

// Handlers serves the order ledger endpoints.
type Handlers struct {
	Store  Querier
	Bus    *events.Bus
	Logger zerolog.Logger
}

type orderView struct {
	OrderNo   string     `json:"orderNo"`
	PlanID    string     `json:"planId"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Provider  string     `json:"provider"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toView(o db.PaymentOrder) orderView {
	view := orderView{
		OrderNo:   o.OrderNo,
		PlanID:    db.UUIDString(o.PlanID),
		Amount:    o.AmountCents,
		Currency:  o.Currency,
		Provider:  o.Provider,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.Time,
	}
	if o.PaidAt.Valid {
		paidAt := o.PaidAt.Time
		view.PaidAt = &paidAt
	}
	return view
}

// List handles GET /api/v1/orders.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := authedUser(w, r)
	if !ok {
		return
	}

	page, perPage := common.ParsePagination(r, 20)
	orders, err := h.Store.ListOrdersForUser(r.Context(), db.ListOrdersForUserParams{
		UserID: uid,
		Limit:  int32(perPage),
		Offset: int32((page - 1) * perPage),
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("order list failed")
		common.RenderError(w, err)
		return
	}
	total, err := h.Store.CountOrdersForUser(r.Context(), uid)
	if err != nil {
		h.Logger.Error().Err(err).Msg("order count failed")
		common.RenderError(w, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toView(o))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"orders": views,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get handles GET /api/v1/orders/{orderNo}. Orders belonging to other
// users are reported as absent.
func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := authedUser(w, r)
	if !ok {
		return
	}

	orderNo := chi.URLParam(r, "orderNo")
	o, err := h.Store.GetOrderByNo(r.Context(), orderNo)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !db.UUIDEqual(o.UserID, uid)) {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("order read failed")
		common.RenderError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, toView(o))
}

// Cancel handles POST /api/v1/orders/{orderNo}/cancel. Only PENDING orders
// cancel; a completion that already landed wins the race.
func (h Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, ok := authedUser(w, r)
	if !ok {
		return
	}

	orderNo := chi.URLParam(r, "orderNo")
	o, err := h.Store.GetOrderByNo(r.Context(), orderNo)
	if errors.Is(err, pgx.ErrNoRows) {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("order read failed")
		common.RenderError(w, err)
		return
	}
	if !db.UUIDEqual(o.UserID, uid) {
		common.RenderError(w, common.ForbiddenError("order belongs to another user"))
		return
	}

	affected, err := h.Store.CancelOrderIfPending(r.Context(), orderNo)
	if err != nil {
		h.Logger.Error().Err(err).Msg("order cancel failed")
		common.RenderError(w, err)
		return
	}
	if affected == 0 {
		common.RenderError(w, common.StateConflictError("order is no longer pending", nil))
		return
	}

	h.Logger.Info().Str("order_no", orderNo).Msg("order cancelled")
	h.Bus.Publish(r.Context(), events.TopicOrderCanceled, o.ID, map[string]any{
		"orderNo": orderNo,
		"userId":  db.UUIDString(o.UserID),
	})

	common.JSON(w, http.StatusOK, map[string]any{"orderNo": orderNo, "status": string(db.OrderStatusCancelled)})
}

func authedUser(w http.ResponseWriter, r *http.Request) (pgtype.UUID, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return pgtype.UUID{}, false
	}
	uid, err := db.ToUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid subject", nil)
		return pgtype.UUID{}, false
	}
	return uid, true
}
