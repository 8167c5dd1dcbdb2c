package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func xenditCallbackBody(t *testing.T, status string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "qr.payment",
		"data": map[string]any{
			"id":           "qr-1",
			"reference_id": "SUB-20260301120000-ab12cd34ef",
			"status":       status,
			"paid_at":      "2026-03-01T12:05:00Z",
		},
	})
	require.NoError(t, err)
	return body
}

func signedRequest(x *Xendit, body []byte) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/xendit", nil)
	r.Header.Set("x-callback-signature", x.SignBody(body))
	return r
}

func TestXenditVerifyCallbackSucceeded(t *testing.T) {
	x := &Xendit{SecretKey: "xnd-test", Logger: zerolog.Nop()}
	body := xenditCallbackBody(t, "SUCCEEDED")

	note, err := x.VerifyCallback(signedRequest(x, body), body)
	require.NoError(t, err)
	assert.True(t, note.Paid)
	assert.Equal(t, "SUB-20260301120000-ab12cd34ef", note.OrderNo)
	assert.Equal(t, "qr-1", note.ProviderRef)
	assert.Equal(t, "2026-03-01T12:05:00Z", note.PaidAt.Format("2006-01-02T15:04:05Z"))
}

func TestXenditVerifyCallbackMissingSignature(t *testing.T) {
	x := &Xendit{SecretKey: "xnd-test", Logger: zerolog.Nop()}
	body := xenditCallbackBody(t, "SUCCEEDED")

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	_, err := x.VerifyCallback(r, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestXenditVerifyCallbackTamperedBody(t *testing.T) {
	x := &Xendit{SecretKey: "xnd-test", Logger: zerolog.Nop()}
	body := xenditCallbackBody(t, "SUCCEEDED")
	r := signedRequest(x, body)

	tampered := xenditCallbackBody(t, "FAILED")
	_, err := x.VerifyCallback(r, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestXenditVerifyCallbackTerminalFailure(t *testing.T) {
	x := &Xendit{SecretKey: "xnd-test", Logger: zerolog.Nop()}
	body := xenditCallbackBody(t, "EXPIRED")

	note, err := x.VerifyCallback(signedRequest(x, body), body)
	require.NoError(t, err)
	assert.False(t, note.Paid)
	assert.True(t, note.Terminal)
}

func TestXenditCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/qr_codes", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SUB-1", req["reference_id"])
		assert.Equal(t, "DYNAMIC", req["type"])
		assert.Equal(t, float64(150000), req["amount"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":        "qr-1",
			"qr_string": "00020101021226...",
			"status":    "ACTIVE",
		})
	}))
	defer srv.Close()

	x := &Xendit{SecretKey: "xnd-test", BaseURL: srv.URL, Client: srv.Client(), Logger: zerolog.Nop()}
	res, err := x.CreateOrder(t.Context(), CreateOrderRequest{OrderNo: "SUB-1", Amount: 150000, Currency: "IDR"})
	require.NoError(t, err)
	assert.Equal(t, "qr-1", res.ProviderRef)
	assert.Equal(t, "00020101021226...", res.QRCode)
	assert.Empty(t, res.PayURL)
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry(
		&Midtrans{ServerKey: "sk", Logger: zerolog.Nop()},
		&Xendit{SecretKey: "xnd", Logger: zerolog.Nop()},
	)

	p, err := registry.Resolve("midtrans")
	require.NoError(t, err)
	assert.Equal(t, "midtrans", p.Name())
	assert.Equal(t, "IDR", p.Currency())

	_, err = registry.Resolve("paypal")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	assert.Equal(t, []string{"midtrans", "xendit"}, registry.Names())
}
