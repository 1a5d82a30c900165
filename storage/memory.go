package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"

	"github.com/flowcatalyst/pipeline/types"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	runs     map[string]types.Run
	steps    map[string][]types.ActionStep
	outbox   map[uint64]types.OutboxEntry
	generate generator.Generator
	mu       sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore. Outbox entry IDs are minted with
// the given generator.
func NewMemoryStore(generate generator.Generator) *MemoryStore {
	if generate == nil {
		generate = generator.NewSnowflake(time.Now().Add(-time.Second), 1)
	}
	return &MemoryStore{
		runs:     make(map[string]types.Run),
		steps:    make(map[string][]types.ActionStep),
		outbox:   make(map[uint64]types.OutboxEntry),
		generate: generate,
	}
}

// CreateRun saves a run and its outbox entry under one lock.
func (s *MemoryStore) CreateRun(ctx context.Context, run *types.Run) error {
	return withContextError(ctx, func() error {
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		if run.CreatedAt.IsZero() {
			run.CreatedAt = time.Now()
		}

		entryID, err := s.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate outbox entry ID: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.runs[run.ID] = *run
		s.outbox[entryID] = types.OutboxEntry{ID: entryID, RunID: run.ID}
		return nil
	})
}

// GetRun retrieves a run from memory.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (types.Run, error) {
	return withContext(ctx, func() (types.Run, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		run, ok := s.runs[id]
		if !ok {
			return types.Run{}, fmt.Errorf("%w: id=%s", ErrRunNotFound, id)
		}
		return run, nil
	})
}

// SaveWorkflowSteps replaces a workflow's steps, stored sorted by sort order.
func (s *MemoryStore) SaveWorkflowSteps(ctx context.Context, workflowID string, steps []types.ActionStep) error {
	return withContextError(ctx, func() error {
		ordered := make([]types.ActionStep, len(steps))
		copy(ordered, steps)
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].SortOrder < ordered[j].SortOrder
		})
		for i := range ordered {
			ordered[i].WorkflowID = workflowID
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.steps[workflowID] = ordered
		return nil
	})
}

// GetWorkflowSteps retrieves a workflow's steps, ascending sort order.
func (s *MemoryStore) GetWorkflowSteps(ctx context.Context, workflowID string) ([]types.ActionStep, error) {
	return withContext(ctx, func() ([]types.ActionStep, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		steps, ok := s.steps[workflowID]
		if !ok {
			return nil, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, workflowID)
		}
		out := make([]types.ActionStep, len(steps))
		copy(out, steps)
		return out, nil
	})
}

// ListPendingOutbox returns up to limit outbox entries, oldest first.
// Snowflake IDs are time-ordered, so ID order is creation order.
func (s *MemoryStore) ListPendingOutbox(ctx context.Context, limit int) ([]types.OutboxEntry, error) {
	return withContext(ctx, func() ([]types.OutboxEntry, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		entries := make([]types.OutboxEntry, 0, len(s.outbox))
		for _, entry := range s.outbox {
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	})
}

// DeleteOutboxEntries removes entries by ID, ignoring missing ones.
func (s *MemoryStore) DeleteOutboxEntries(ctx context.Context, ids []uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range ids {
			delete(s.outbox, id)
		}
		return nil
	})
}
