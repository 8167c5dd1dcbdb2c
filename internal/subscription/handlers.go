package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
)

// Handlers exposes subscription reads over HTTP.
type Handlers struct {
	Service *Service
	Logger  zerolog.Logger
}

type subscriptionResponse struct {
	Status          string    `json:"status"`
	PlanID          string    `json:"planId,omitempty"`
	StartAt         time.Time `json:"startAt,omitzero"`
	EndAt           time.Time `json:"endAt,omitzero"`
	PaymentProvider string    `json:"paymentProvider,omitempty"`
}

// Current handles GET /api/v1/subscription.
func (h Handlers) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	uid, err := db.ToUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid subject", nil)
		return
	}

	sub, err := h.Service.Current(r.Context(), uid)
	if errors.Is(err, ErrNoSubscription) {
		common.JSON(w, http.StatusOK, subscriptionResponse{Status: "NONE"})
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("subscription read failed")
		common.RenderError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, subscriptionResponse{
		Status:          string(sub.Status),
		PlanID:          db.UUIDString(sub.PlanID),
		StartAt:         sub.StartAt.Time,
		EndAt:           sub.EndAt.Time,
		PaymentProvider: sub.PaymentProvider,
	})
}
