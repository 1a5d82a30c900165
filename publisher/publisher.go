// Package publisher drains the transactional outbox onto the event log.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/eventlog"
	"github.com/flowcatalyst/pipeline/storage"
	"github.com/flowcatalyst/pipeline/types"
)

// ErrStoreRequired and friends guard construction.
var (
	ErrStoreRequired    = errors.New("store is required")
	ErrEventLogRequired = errors.New("event log is required")
)

// Config controls the polling loop.
type Config struct {
	Topic        string
	BatchSize    int
	PollInterval time.Duration
	IdleDelay    time.Duration
}

func (c *Config) normalize() {
	if c.Topic == "" {
		c.Topic = "workflow-events"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = c.PollInterval
	}
}

// Publisher moves pending run notifications from the store to the event log
// with at-least-once delivery. An entry is deleted only after its stage-0
// message was handed to the log, so a crash between publish and delete can
// duplicate a message but never lose one.
type Publisher struct {
	store  storage.Store
	log    eventlog.EventLog
	logger *zap.Logger
	cfg    Config
}

// New creates a Publisher.
func New(store storage.Store, log eventlog.EventLog, logger *zap.Logger, cfg Config) (*Publisher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if log == nil {
		return nil, ErrEventLogRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()
	return &Publisher{store: store, log: log, logger: logger, cfg: cfg}, nil
}

// Run polls the outbox until the context is cancelled. Failed cycles are
// logged and retried on the next tick; entries survive in the store until a
// publish for them succeeds.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("outbox publisher started",
		zap.String("topic", p.cfg.Topic),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		published, err := p.publishPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("outbox cycle failed", zap.Error(err))
		}

		delay := p.cfg.PollInterval
		if published == 0 {
			// Empty batch: back off instead of hot-looping the store.
			delay = p.cfg.IdleDelay
		}

		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// publishPending runs one cycle: read a batch, publish a stage-0 message per
// entry, then delete exactly the entries whose publish call returned.
func (p *Publisher) publishPending(ctx context.Context) (int, error) {
	entries, err := p.store.ListPendingOutbox(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending outbox entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	delivered := make([]uint64, 0, len(entries))
	var firstErr error
	for _, entry := range entries {
		if err := p.publishEntry(ctx, entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("failed to publish outbox entry",
				zap.Uint64("entry_id", entry.ID),
				zap.String("run_id", entry.RunID),
				zap.Error(err),
			)
			continue
		}
		delivered = append(delivered, entry.ID)
	}

	if len(delivered) > 0 {
		// A failed delete leaves entries to be republished next cycle;
		// duplicates are acceptable under at-least-once.
		if err := p.store.DeleteOutboxEntries(ctx, delivered); err != nil {
			return len(delivered), fmt.Errorf("failed to delete published outbox entries: %w", err)
		}
		p.logger.Debug("outbox batch published", zap.Int("count", len(delivered)))
	}

	return len(delivered), firstErr
}

func (p *Publisher) publishEntry(ctx context.Context, entry types.OutboxEntry) error {
	body, err := types.StageMessage{RunID: entry.RunID, Stage: 0}.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode stage message: %w", err)
	}
	return p.log.Publish(ctx, p.cfg.Topic, entry.RunID, body)
}
