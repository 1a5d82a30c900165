package eventlog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLog is a Redis Streams implementation of the EventLog interface.
// Streams give an ordered, replicated commit log; consumer groups track the
// delivered-but-unacknowledged set, and XACK is the offset commit.
type RedisLog struct {
	client   *redis.Client
	group    string
	consumer string

	groups   map[string]struct{}
	groupsMu sync.Mutex
}

// RedisOptions extends redis.Options with consumer-group configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Group        string
	Consumer     string
}

// NewRedisLog creates a new RedisLog instance with configurable options.
func NewRedisLog(opts RedisOptions) (*RedisLog, error) {
	if opts.Group == "" || opts.Consumer == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisLog{
		client:   client,
		group:    opts.Group,
		consumer: opts.Consumer,
		groups:   make(map[string]struct{}),
	}, nil
}

// Publish appends a message to the stream. Redis streams are totally
// ordered, so keyed messages for one run are delivered in append order.
func (l *RedisLog) Publish(ctx context.Context, topic, key string, body []byte) error {
	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"key": key, "body": string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", topic, err)
	}
	return nil
}

// Fetch reads messages for this consumer: its own pending entries first
// (redelivery after a crash), then new entries, blocking up to block.
func (l *RedisLog) Fetch(ctx context.Context, topic string, max int, block time.Duration) ([]Message, error) {
	if err := l.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}

	// Negative block omits BLOCK; history reads return immediately anyway.
	pending, err := l.read(ctx, topic, "0", max, -1)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}

	return l.read(ctx, topic, ">", max, block)
}

// Ack commits consumption of the given stream entry IDs.
func (l *RedisLog) Ack(ctx context.Context, topic string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, topic, l.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack on stream %s: %w", topic, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func (l *RedisLog) read(ctx context.Context, topic, cursor string, max int, block time.Duration) ([]Message, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  []string{topic, cursor},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", topic, err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			messages = append(messages, Message{
				ID:   entry.ID,
				Key:  stringValue(entry.Values, "key"),
				Body: []byte(stringValue(entry.Values, "body")),
			})
		}
	}
	return messages, nil
}

// ensureGroup creates the consumer group once per topic, starting from the
// beginning of the stream so messages published before the first consumer
// attach are not skipped.
func (l *RedisLog) ensureGroup(ctx context.Context, topic string) error {
	l.groupsMu.Lock()
	defer l.groupsMu.Unlock()
	if _, ok := l.groups[topic]; ok {
		return nil
	}

	err := l.client.XGroupCreateMkStream(ctx, topic, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on stream %s: %w", topic, err)
	}
	l.groups[topic] = struct{}{}
	return nil
}

func stringValue(values map[string]interface{}, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
