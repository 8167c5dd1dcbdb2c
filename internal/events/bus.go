package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/db"
)

// Recorder persists events to the domain_events feed.
type Recorder interface {
	InsertDomainEvent(ctx context.Context, arg db.InsertDomainEventParams) (db.DomainEvent, error)
}

// Enqueuer hands an event to the delivery queue.
type Enqueuer interface {
	EnqueueDeliver(ctx context.Context, topic string, payload []byte) error
}

// Bus persists domain events and schedules their delivery. Publishing is
// best-effort: billing state has already committed by the time an event is
// published, so failures here are logged, never propagated.
type Bus struct {
	Recorder Recorder
	Enqueuer Enqueuer
	Logger   zerolog.Logger
}

// NewBus builds an event bus. Enqueuer may be nil when no worker runs.
func NewBus(recorder Recorder, enqueuer Enqueuer, logger zerolog.Logger) *Bus {
	return &Bus{Recorder: recorder, Enqueuer: enqueuer, Logger: logger}
}

// Publish records one event and queues it for subscriber delivery.
func (b *Bus) Publish(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) {
	if b == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		b.Logger.Error().Err(err).Str("topic", topic).Msg("event payload marshal failed")
		return
	}
	if b.Recorder != nil {
		if _, err := b.Recorder.InsertDomainEvent(ctx, db.InsertDomainEventParams{
			Topic:       topic,
			AggregateID: aggregateID,
			Payload:     body,
		}); err != nil {
			b.Logger.Error().Err(err).Str("topic", topic).Msg("event persist failed")
		}
	}
	if b.Enqueuer != nil {
		if err := b.Enqueuer.EnqueueDeliver(ctx, topic, body); err != nil {
			b.Logger.Error().Err(err).Str("topic", topic).Msg("event enqueue failed")
		}
	}
}
