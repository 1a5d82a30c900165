// Package eventlog abstracts the ordered, partitioned commit log that
// carries stage messages between the publisher and the executor.
package eventlog

import (
	"context"
	"time"
)

// Message is one entry read from the log. ID is the log-assigned position
// used for acknowledgement; Key is the partition key (the run ID), which the
// log uses to keep per-run delivery in order.
type Message struct {
	ID   string
	Key  string
	Body []byte
}

// EventLog is the pub/sub collaborator. Consumption is consumer-group based:
// fetched messages stay pending until acknowledged, and unacknowledged
// messages are redelivered, giving at-least-once semantics.
type EventLog interface {
	// Publish appends a message to the topic, keyed for per-run ordering.
	Publish(ctx context.Context, topic, key string, body []byte) error

	// Fetch returns up to max messages for this consumer, redelivering its
	// pending messages before new ones. It blocks up to the given duration
	// when no messages are available.
	Fetch(ctx context.Context, topic string, max int, block time.Duration) ([]Message, error)

	// Ack commits consumption of the given message IDs. This is the offset
	// commit: an unacked message is redelivered.
	Ack(ctx context.Context, topic string, ids ...string) error

	// Close releases the underlying connection.
	Close() error
}
