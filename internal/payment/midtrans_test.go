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

func midtransNote(t *testing.T, m *Midtrans, status, fraud string) []byte {
	t.Helper()
	payload := map[string]string{
		"order_id":           "SUB-20260301120000-ab12cd34ef",
		"status_code":        "200",
		"gross_amount":       "150000.00",
		"transaction_id":     "mt-tx-1",
		"transaction_status": status,
		"fraud_status":       fraud,
		"signature_key":      m.SignNotification("SUB-20260301120000-ab12cd34ef", "200", "150000.00"),
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestMidtransVerifyCallbackSettlement(t *testing.T) {
	m := &Midtrans{ServerKey: "sk-test", Logger: zerolog.Nop()}
	note, err := m.VerifyCallback(nil, midtransNote(t, m, "settlement", ""))
	require.NoError(t, err)
	assert.True(t, note.Paid)
	assert.False(t, note.Terminal)
	assert.Equal(t, "SUB-20260301120000-ab12cd34ef", note.OrderNo)
	assert.Equal(t, "mt-tx-1", note.ProviderRef)
}

func TestMidtransVerifyCallbackCaptureRespectsFraudStatus(t *testing.T) {
	m := &Midtrans{ServerKey: "sk-test", Logger: zerolog.Nop()}

	note, err := m.VerifyCallback(nil, midtransNote(t, m, "capture", "accept"))
	require.NoError(t, err)
	assert.True(t, note.Paid)

	note, err = m.VerifyCallback(nil, midtransNote(t, m, "capture", "challenge"))
	require.NoError(t, err)
	assert.False(t, note.Paid)
}

func TestMidtransVerifyCallbackTamperedSignature(t *testing.T) {
	m := &Midtrans{ServerKey: "sk-test", Logger: zerolog.Nop()}
	body := midtransNote(t, m, "settlement", "")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	payload["gross_amount"] = "1.00"
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = m.VerifyCallback(nil, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMidtransVerifyCallbackWrongKey(t *testing.T) {
	signer := &Midtrans{ServerKey: "other-key"}
	body := midtransNote(t, signer, "settlement", "")

	m := &Midtrans{ServerKey: "sk-test", Logger: zerolog.Nop()}
	_, err := m.VerifyCallback(nil, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMidtransVerifyCallbackTerminalStatuses(t *testing.T) {
	m := &Midtrans{ServerKey: "sk-test", Logger: zerolog.Nop()}
	for _, status := range []string{"deny", "cancel", "expire", "failure"} {
		note, err := m.VerifyCallback(nil, midtransNote(t, m, status, ""))
		require.NoError(t, err, status)
		assert.False(t, note.Paid, status)
		assert.True(t, note.Terminal, status)
	}
}

func TestMidtransCreateOrder(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		details := req["transaction_details"].(map[string]any)
		assert.Equal(t, "SUB-1", details["order_id"])
		assert.Equal(t, float64(150000), details["gross_amount"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":        "snap-token",
			"redirect_url": "https://pay.example/snap-token",
		})
	}))
	defer srv.Close()

	m := &Midtrans{ServerKey: "sk-test", BaseURL: srv.URL, Client: srv.Client(), Logger: zerolog.Nop()}
	res, err := m.CreateOrder(t.Context(), CreateOrderRequest{
		OrderNo:  "SUB-1",
		Amount:   150000,
		Currency: "IDR",
	})
	require.NoError(t, err)
	assert.Equal(t, "/snap/v1/transactions", gotPath)
	assert.Equal(t, "snap-token", res.ProviderRef)
	assert.Equal(t, "https://pay.example/snap-token", res.PayURL)
	assert.Empty(t, res.QRCode)
}

func TestMidtransCreateOrderProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := &Midtrans{ServerKey: "sk-test", BaseURL: srv.URL, Client: srv.Client(), Logger: zerolog.Nop()}
	_, err := m.CreateOrder(t.Context(), CreateOrderRequest{OrderNo: "SUB-1", Amount: 1000, Currency: "IDR"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestMidtransCreateOrderMissingConfig(t *testing.T) {
	m := &Midtrans{Logger: zerolog.Nop()}
	_, err := m.CreateOrder(t.Context(), CreateOrderRequest{OrderNo: "SUB-1"})
	assert.ErrorIs(t, err, ErrProviderConfig)
}
