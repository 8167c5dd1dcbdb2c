package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Midtrans implements the card redirect flow via the Snap API. CreateOrder
// returns a hosted payment page URL; the shopper finishes the card entry
// there and Midtrans calls us back over the notification webhook.
type Midtrans struct {
	ServerKey string
	BaseURL   string
	Client    *http.Client
	Logger    zerolog.Logger
}

func (m *Midtrans) Name() string     { return "midtrans" }
func (m *Midtrans) Currency() string { return "IDR" }

type midtransSnapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []midtransItem `json:"item_details"`
	CustomerDetails struct {
		Email string `json:"email,omitempty"`
	} `json:"customer_details"`
}

type midtransItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type midtransSnapResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CreateOrder opens a Snap transaction and returns the redirect URL.
func (m *Midtrans) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	if m.ServerKey == "" || m.BaseURL == "" {
		return CreateOrderResult{}, ErrProviderConfig
	}

	var payload midtransSnapRequest
	payload.TransactionDetails.OrderID = req.OrderNo
	payload.TransactionDetails.GrossAmount = req.Amount
	payload.ItemDetails = []midtransItem{{
		ID:       req.OrderNo,
		Name:     req.Description,
		Price:    req.Amount,
		Quantity: 1,
	}}
	payload.CustomerDetails.Email = req.PayerHint

	body, err := json.Marshal(payload)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("midtrans: marshal snap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("midtrans: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(m.ServerKey+":")))

	resp, err := m.client().Do(httpReq)
	if err != nil {
		m.Logger.Warn().Err(err).Str("order_no", req.OrderNo).Msg("midtrans snap call failed")
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		m.Logger.Warn().Int("status", resp.StatusCode).Str("order_no", req.OrderNo).Msg("midtrans snap rejected request")
		return CreateOrderResult{}, fmt.Errorf("%w: snap returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var snap midtransSnapResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: decode snap response: %v", ErrProviderUnavailable, err)
	}

	return CreateOrderResult{
		ProviderRef: snap.Token,
		PayURL:      snap.RedirectURL,
	}, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SettlementTime    string `json:"settlement_time"`
}

// VerifyCallback checks the SHA-512 notification signature and maps the
// transaction status. A bad signature is a hard error, never a soft
// "unpaid" outcome.
func (m *Midtrans) VerifyCallback(_ *http.Request, body []byte) (Notification, error) {
	if m.ServerKey == "" {
		return Notification{}, ErrProviderConfig
	}

	var note midtransNotification
	if err := json.Unmarshal(body, &note); err != nil {
		return Notification{}, fmt.Errorf("midtrans: decode notification: %w", err)
	}
	if note.OrderID == "" || note.SignatureKey == "" {
		return Notification{}, ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(m.ServerKey))
	mac.Write([]byte(note.OrderID + note.StatusCode + note.GrossAmount + m.ServerKey))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(note.SignatureKey)) {
		return Notification{}, ErrInvalidSignature
	}

	paid := false
	terminal := false
	switch note.TransactionStatus {
	case "capture":
		paid = note.FraudStatus == "" || note.FraudStatus == "accept"
	case "settlement":
		paid = true
	case "deny", "cancel", "expire", "failure":
		terminal = true
	}

	paidAt := time.Now().UTC()
	if note.SettlementTime != "" {
		if ts, err := time.Parse("2006-01-02 15:04:05", note.SettlementTime); err == nil {
			paidAt = ts.UTC()
		}
	}

	return Notification{
		OrderNo:     note.OrderID,
		ProviderRef: note.TransactionID,
		Paid:        paid,
		Terminal:    terminal,
		PaidAt:      paidAt,
		RawPayload:  body,
	}, nil
}

// SignNotification computes the notification signature over the exact
// field strings Midtrans sends. Exposed for tests.
func (m *Midtrans) SignNotification(orderID, statusCode, grossAmount string) string {
	mac := hmac.New(sha512.New, []byte(m.ServerKey))
	mac.Write([]byte(orderID + statusCode + grossAmount + m.ServerKey))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *Midtrans) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return http.DefaultClient
}
