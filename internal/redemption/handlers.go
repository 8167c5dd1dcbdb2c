package redemption

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
)

type redeemRequest struct {
	Code string `json:"code" validate:"required,min=4,max=64"`
}

type redeemResponse struct {
	Success bool      `json:"success"`
	PlanID  string    `json:"planId"`
	EndAt   time.Time `json:"endAt"`
}

// Handlers exposes redemption over HTTP.
type Handlers struct {
	Service  *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Redeem handles POST /api/v1/redeem.
func (h Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
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

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "malformed request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request", nil)
		return
	}

	sub, err := h.Service.Redeem(r.Context(), uid, req.Code)
	if err != nil {
		if !common.IsAppError(err) {
			h.Logger.Error().Err(err).Msg("redemption failed")
		}
		common.RenderError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, redeemResponse{
		Success: true,
		PlanID:  db.UUIDString(sub.PlanID),
		EndAt:   sub.EndAt.Time,
	})
}
