package eventlog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryLog is an in-memory implementation of the EventLog interface for a
// single consumer group. Fetched messages stay pending until acknowledged
// and are redelivered ahead of new ones, mirroring the at-least-once
// semantics of the real log.
type MemoryLog struct {
	topics map[string]*memoryTopic
	mu     sync.Mutex
}

type memoryTopic struct {
	messages []Message
	next     int
	pending  []string
	inflight map[string]Message
}

// NewMemoryLog creates a new MemoryLog instance.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{topics: make(map[string]*memoryTopic)}
}

// Publish appends a message to the topic.
func (l *MemoryLog) Publish(ctx context.Context, topic, key string, body []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	id := strconv.Itoa(len(t.messages))
	copied := make([]byte, len(body))
	copy(copied, body)
	t.messages = append(t.messages, Message{ID: id, Key: key, Body: copied})
	return nil
}

// Fetch returns pending (unacknowledged) messages first, then new ones.
// The block duration is ignored; an empty topic returns immediately.
func (l *MemoryLog) Fetch(ctx context.Context, topic string, max int, block time.Duration) ([]Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)

	var out []Message
	for _, id := range t.pending {
		if max > 0 && len(out) >= max {
			return out, nil
		}
		out = append(out, t.inflight[id])
	}
	for t.next < len(t.messages) {
		if max > 0 && len(out) >= max {
			break
		}
		msg := t.messages[t.next]
		t.next++
		t.pending = append(t.pending, msg.ID)
		t.inflight[msg.ID] = msg
		out = append(out, msg)
	}
	return out, nil
}

// Ack removes messages from the pending set.
func (l *MemoryLog) Ack(ctx context.Context, topic string, ids ...string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	for _, id := range ids {
		delete(t.inflight, id)
		for i, pending := range t.pending {
			if pending == id {
				t.pending = append(t.pending[:i], t.pending[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Close is a no-op.
func (l *MemoryLog) Close() error { return nil }

// Messages returns a copy of everything ever published to a topic, in order.
// Intended for tests and diagnostics.
func (l *MemoryLog) Messages(topic string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// PendingCount returns the number of delivered-but-unacknowledged messages.
func (l *MemoryLog) PendingCount(topic string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.topic(topic).pending)
}

func (l *MemoryLog) topic(name string) *memoryTopic {
	t, ok := l.topics[name]
	if !ok {
		t = &memoryTopic{inflight: make(map[string]Message)}
		l.topics[name] = t
	}
	return t
}
