package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
)

type checkoutRequest struct {
	PlanID    string `json:"planId" validate:"required,uuid4"`
	Provider  string `json:"provider" validate:"required,alphanum"`
	PayerHint string `json:"payerHint" validate:"omitempty,email"`
}

type checkoutResponse struct {
	OrderNo  string `json:"orderNo"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	PayURL   string `json:"payUrl,omitempty"`
	QRCode   string `json:"qrCode,omitempty"`
}

// Handlers exposes checkout over HTTP.
type Handlers struct {
	Service  *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Create handles POST /api/v1/checkout.
func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
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

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "malformed request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request", validationDetails(err))
		return
	}

	result, err := h.Service.Checkout(r.Context(), uid, req.PlanID, req.Provider, req.PayerHint)
	if err != nil {
		if !common.IsAppError(err) {
			h.Logger.Error().Err(err).Msg("checkout failed")
		}
		common.RenderError(w, err)
		return
	}

	common.JSON(w, http.StatusCreated, checkoutResponse{
		OrderNo:  result.OrderNo,
		Amount:   result.Amount,
		Currency: result.Currency,
		PayURL:   result.PayURL,
		QRCode:   result.QRCode,
	})
}

func validationDetails(err error) any {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
