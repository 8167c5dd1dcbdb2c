package payment

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Sentinel errors shared by all providers.
var (
	// ErrProviderUnavailable covers network failures and non-2xx provider
	// responses during order creation. The local order stays PENDING.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")

	// ErrProviderConfig flags a misconfigured provider (missing key or URL).
	ErrProviderConfig = errors.New("payment: provider misconfigured")

	// ErrInvalidSignature flags a callback whose signature does not verify.
	// Callbacks with this error must never influence order state.
	ErrInvalidSignature = errors.New("payment: invalid callback signature")
)

// CreateOrderRequest carries everything a provider needs to open a charge.
// Amount is in minor units of Currency.
type CreateOrderRequest struct {
	OrderNo     string
	Amount      int64
	Currency    string
	Description string
	PayerHint   string
}

// CreateOrderResult is the provider-side handle for a freshly opened charge.
// Exactly one of PayURL or QRCode is populated, depending on the flow.
type CreateOrderResult struct {
	ProviderRef string
	PayURL      string
	QRCode      string
}

// Notification is the normalized form of a provider callback.
type Notification struct {
	OrderNo     string
	ProviderRef string
	Paid        bool
	Terminal    bool
	PaidAt      time.Time
	RawPayload  []byte
}

// Provider abstracts one external payment channel. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Name is the stable identifier used in routes and order rows.
	Name() string

	// Currency is the settlement currency the provider charges in.
	Currency() string

	// CreateOrder opens a charge with the provider for the given local order.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)

	// VerifyCallback authenticates and normalizes a webhook delivery. The
	// body is the already-read request payload; the request supplies headers
	// for signature schemes that sign the raw body.
	VerifyCallback(r *http.Request, body []byte) (Notification, error)
}
