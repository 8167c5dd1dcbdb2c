package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// TypeEventDeliver is the asynq task type for domain event fan-out.
const TypeEventDeliver = "event:deliver"

// DeliverPayload is the task body carried between API and worker.
type DeliverPayload struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Client enqueues event delivery tasks.
type Client struct {
	inner *asynq.Client
	queue string
}

// NewClient builds an enqueuer on the given redis connection.
func NewClient(opt asynq.RedisConnOpt, queue string) *Client {
	return &Client{inner: asynq.NewClient(opt), queue: queue}
}

// EnqueueDeliver schedules delivery of one domain event to subscribers.
func (c *Client) EnqueueDeliver(ctx context.Context, topic string, payload []byte) error {
	body, err := json.Marshal(DeliverPayload{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeEventDeliver, body)
	_, err = c.inner.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	return err
}

// Close releases the underlying redis client.
func (c *Client) Close() error { return c.inner.Close() }
