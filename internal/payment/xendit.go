package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Xendit implements the wallet QR flow. CreateOrder registers a dynamic QR
// code; the shopper scans it in their wallet app and Xendit posts a payment
// callback signed over the raw body.
type Xendit struct {
	SecretKey string
	BaseURL   string
	Client    *http.Client
	Logger    zerolog.Logger
}

func (x *Xendit) Name() string     { return "xendit" }
func (x *Xendit) Currency() string { return "IDR" }

type xenditQRRequest struct {
	ReferenceID string `json:"reference_id"`
	Type        string `json:"type"`
	Currency    string `json:"currency"`
	Amount      int64  `json:"amount"`
}

type xenditQRResponse struct {
	ID       string `json:"id"`
	QRString string `json:"qr_string"`
	Status   string `json:"status"`
}

// CreateOrder registers a dynamic QR code for the order amount.
func (x *Xendit) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	if x.SecretKey == "" || x.BaseURL == "" {
		return CreateOrderResult{}, ErrProviderConfig
	}

	body, err := json.Marshal(xenditQRRequest{
		ReferenceID: req.OrderNo,
		Type:        "DYNAMIC",
		Currency:    req.Currency,
		Amount:      req.Amount,
	})
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("xendit: marshal qr request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.BaseURL+"/qr_codes", bytes.NewReader(body))
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("xendit: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-version", "2022-07-31")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(x.SecretKey+":")))

	resp, err := x.client().Do(httpReq)
	if err != nil {
		x.Logger.Warn().Err(err).Str("order_no", req.OrderNo).Msg("xendit qr call failed")
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		x.Logger.Warn().Int("status", resp.StatusCode).Str("order_no", req.OrderNo).Msg("xendit rejected qr request")
		return CreateOrderResult{}, fmt.Errorf("%w: qr_codes returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var qr xenditQRResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: decode qr response: %v", ErrProviderUnavailable, err)
	}

	return CreateOrderResult{
		ProviderRef: qr.ID,
		QRCode:      qr.QRString,
	}, nil
}

type xenditCallback struct {
	Event string `json:"event"`
	Data  struct {
		ID          string `json:"id"`
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		PaidAt      string `json:"paid_at"`
	} `json:"data"`
}

// VerifyCallback authenticates the x-callback-signature header, an
// HMAC-SHA256 of the raw body, then maps the event to a notification.
func (x *Xendit) VerifyCallback(r *http.Request, body []byte) (Notification, error) {
	if x.SecretKey == "" {
		return Notification{}, ErrProviderConfig
	}

	signature := r.Header.Get("x-callback-signature")
	if signature == "" {
		return Notification{}, ErrInvalidSignature
	}
	if !hmac.Equal([]byte(x.SignBody(body)), []byte(signature)) {
		return Notification{}, ErrInvalidSignature
	}

	var cb xenditCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Notification{}, fmt.Errorf("xendit: decode callback: %w", err)
	}
	if cb.Data.ReferenceID == "" {
		return Notification{}, fmt.Errorf("xendit: callback missing reference_id")
	}

	paid := cb.Event == "qr.payment" && cb.Data.Status == "SUCCEEDED"
	terminal := cb.Data.Status == "FAILED" || cb.Data.Status == "EXPIRED"

	paidAt := time.Now().UTC()
	if cb.Data.PaidAt != "" {
		if ts, err := time.Parse(time.RFC3339, cb.Data.PaidAt); err == nil {
			paidAt = ts.UTC()
		}
	}

	return Notification{
		OrderNo:     cb.Data.ReferenceID,
		ProviderRef: cb.Data.ID,
		Paid:        paid,
		Terminal:    terminal,
		PaidAt:      paidAt,
		RawPayload:  body,
	}, nil
}

// SignBody computes the callback signature for a raw payload. Exposed for tests.
func (x *Xendit) SignBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(x.SecretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (x *Xendit) client() *http.Client {
	if x.Client != nil {
		return x.Client
	}
	return http.DefaultClient
}
