package payment

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/obs"
)

const maxCallbackBody = 1 << 20

// WebhookHandler adapts raw provider callbacks into settlement calls.
// Redis deduplicates exact redeliveries of bodies that already settled;
// correctness never depends on it, the CAS in the settler closes every race.
type WebhookHandler struct {
	Registry  *Registry
	Settler   *Settler
	Redis     *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle serves POST /api/v1/webhooks/payment/{provider}.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := h.Registry.Resolve(name)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "unknown payment provider", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		h.observe(name, "bad_request")
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "unreadable callback body", nil)
		return
	}

	note, err := provider.VerifyCallback(r, body)
	if errors.Is(err, ErrInvalidSignature) {
		h.Logger.Warn().Str("provider", name).Msg("callback signature rejected")
		h.observe(name, "bad_signature")
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid signature", nil)
		return
	}
	if errors.Is(err, ErrProviderConfig) {
		h.Logger.Error().Str("provider", name).Msg("callback hit unconfigured provider")
		h.observe(name, "error")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "provider not configured", nil)
		return
	}
	if err != nil {
		h.Logger.Warn().Err(err).Str("provider", name).Msg("callback parse failed")
		h.observe(name, "bad_request")
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "malformed callback", nil)
		return
	}

	// The marker is only ever written after a processed delivery, so a hit
	// means this exact body already went through the settler. A delivery
	// that died mid-settlement left no marker and is processed again here;
	// the conditional updates make that retry a no-op.
	if h.alreadyProcessed(r, name, body) {
		h.observe(name, OutcomeDuplicate)
		h.ack(w)
		return
	}

	var outcome string
	switch {
	case note.Paid:
		outcome, err = h.Settler.Complete(r.Context(), note)
	case note.Terminal:
		outcome, err = h.Settler.Fail(r.Context(), note)
	default:
		outcome = OutcomeIgnored
	}
	if err != nil {
		// No marker was written: the provider's redelivery retries settlement.
		h.Logger.Error().Err(err).Str("provider", name).Str("order_no", note.OrderNo).Msg("webhook processing failed")
		h.observe(name, "error")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "processing failed", nil)
		return
	}

	h.markProcessed(r, name, body)
	h.observe(name, outcome)
	h.ack(w)
}

func replayKey(name string, body []byte) string {
	return "billing:webhook:replay:" + name + ":" + common.Sha256Hex(string(body))
}

func (h *WebhookHandler) alreadyProcessed(r *http.Request, name string, body []byte) bool {
	if h.Redis == nil {
		return false
	}
	n, err := h.Redis.Exists(r.Context(), replayKey(name, body)).Result()
	if err != nil {
		// Redis being down must not block settlement.
		h.Logger.Warn().Err(err).Msg("webhook replay guard unavailable")
		return false
	}
	return n > 0
}

func (h *WebhookHandler) markProcessed(r *http.Request, name string, body []byte) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Set(r.Context(), replayKey(name, body), "1", h.ReplayTTL).Err(); err != nil {
		// Losing the marker only costs one redundant settler pass later.
		h.Logger.Warn().Err(err).Msg("webhook replay marker write failed")
	}
}

func (h *WebhookHandler) observe(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
