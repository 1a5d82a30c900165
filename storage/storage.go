package storage

import (
	"context"
	"errors"

	"github.com/flowcatalyst/pipeline/types"
)

// Errors
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// Store defines the persistence operations the pipeline needs. The run store
// is an external collaborator; the pipeline only creates runs together with
// their outbox entries, reads them back, and drains the outbox.
type Store interface {
	// CreateRun persists a run and its outbox entry in one transaction.
	// A missing run ID or creation time is filled in.
	CreateRun(ctx context.Context, run *types.Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (types.Run, error)

	// SaveWorkflowSteps replaces the ordered action steps of a workflow.
	SaveWorkflowSteps(ctx context.Context, workflowID string, steps []types.ActionStep) error

	// GetWorkflowSteps retrieves a workflow's action steps ordered by
	// ascending sort order.
	GetWorkflowSteps(ctx context.Context, workflowID string) ([]types.ActionStep, error)

	// ListPendingOutbox returns up to limit outbox entries, oldest first.
	ListPendingOutbox(ctx context.Context, limit int) ([]types.OutboxEntry, error)

	// DeleteOutboxEntries removes outbox entries by ID. Missing IDs are
	// ignored so retried deletes stay safe.
	DeleteOutboxEntries(ctx context.Context, ids []uint64) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only
// return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
