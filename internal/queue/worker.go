package queue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/obs"
)

// Deliverer posts domain events to subscriber endpoints. Each delivery is
// signed with an HMAC-SHA256 over the raw body so subscribers can verify
// origin the same way we verify provider callbacks.
type Deliverer struct {
	Endpoints     []string
	SigningSecret string
	Client        *http.Client
	Logger        zerolog.Logger
}

// HandleDeliver is the asynq handler for TypeEventDeliver tasks.
func (d *Deliverer) HandleDeliver(ctx context.Context, task *asynq.Task) error {
	var payload DeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Malformed tasks never become deliverable; drop instead of retrying.
		d.Logger.Error().Err(err).Msg("undeliverable event task")
		return fmt.Errorf("decode deliver payload: %v: %w", err, asynq.SkipRetry)
	}

	body, err := json.Marshal(map[string]any{
		"topic":       payload.Topic,
		"payload":     payload.Payload,
		"deliveredAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode delivery body: %v: %w", err, asynq.SkipRetry)
	}

	var firstErr error
	for _, endpoint := range d.Endpoints {
		if err := d.post(ctx, endpoint, payload.Topic, body); err != nil {
			d.observe("error")
			d.Logger.Warn().Err(err).Str("endpoint", endpoint).Str("topic", payload.Topic).Msg("event delivery failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.observe("ok")
	}
	return firstErr
}

func (d *Deliverer) post(ctx context.Context, endpoint, topic string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Billing-Topic", topic)
	if d.SigningSecret != "" {
		mac := hmac.New(sha256.New, []byte(d.SigningSecret))
		mac.Write(body)
		req.Header.Set("X-Billing-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Deliverer) observe(result string) {
	if obs.EventDeliveriesTotal != nil {
		obs.EventDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

func (d *Deliverer) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}
