package broker

import (
	"context"
	"time"
)

// Message is one task delivery on a worker queue.
type Message struct {
	TaskID     string    `json:"task_id" msgpack:"task_id"`
	Name       string    `json:"name" msgpack:"name"`
	ResourceID string    `json:"resource_id,omitempty" msgpack:"resource_id,omitempty"`
	Payload    []byte    `json:"payload,omitempty" msgpack:"payload,omitempty"`
	User       string    `json:"user,omitempty" msgpack:"user,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
}

// Broker publishes messages to named queues and consumes them.
type Broker interface {
	// Publish appends msg to queue.
	Publish(ctx context.Context, queue string, msg *Message) error

	// Consume blocks until a message is available on queue and removes it.
	// Returns ctx.Err() when ctx is done and tasking.ErrBrokerClosed after
	// Close.
	Consume(ctx context.Context, queue string) (*Message, error)

	// Close releases broker resources and unblocks pending consumers.
	Close() error
}
