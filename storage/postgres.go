package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songzhibin97/gkit/generator"

	"github.com/flowcatalyst/pipeline/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT 'null',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS action_steps (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	sort_order  INT NOT NULL,
	parameters  JSONB NOT NULL DEFAULT 'null',
	condition   TEXT NOT NULL DEFAULT '',
	UNIQUE (workflow_id, sort_order)
);

CREATE TABLE IF NOT EXISTS run_outbox (
	id     BIGINT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs (id)
);
`

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db       *pgxpool.Pool
	generate generator.Generator
}

// NewPostgresStore creates a new PostgresStore on an existing pool. Outbox
// entry IDs are minted with the given generator.
func NewPostgresStore(db *pgxpool.Pool, generate generator.Generator) *PostgresStore {
	if generate == nil {
		generate = generator.NewSnowflake(time.Now().Add(-time.Second), 1)
	}
	return &PostgresStore{db: db, generate: generate}
}

// Migrate creates the pipeline tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateRun inserts the run and its outbox entry in one transaction, so a
// recorded run always has a pending stage-0 marker.
func (s *PostgresStore) CreateRun(ctx context.Context, run *types.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	metadata, err := run.Metadata.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	entryID, err := s.generate.NextID()
	if err != nil {
		return fmt.Errorf("failed to generate outbox entry ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"INSERT INTO runs (id, workflow_id, metadata, created_at) VALUES ($1, $2, $3, $4)",
		run.ID, run.WorkflowID, metadata, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO run_outbox (id, run_id) VALUES ($1, $2)",
		int64(entryID), run.ID,
	); err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}

	return tx.Commit(ctx)
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (types.Run, error) {
	var (
		run      types.Run
		metadata []byte
	)
	err := s.db.QueryRow(ctx,
		"SELECT id, workflow_id, metadata, created_at FROM runs WHERE id = $1", id,
	).Scan(&run.ID, &run.WorkflowID, &metadata, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Run{}, fmt.Errorf("%w: id=%s", ErrRunNotFound, id)
	} else if err != nil {
		return types.Run{}, fmt.Errorf("failed to query run %s: %w", id, err)
	}

	run.Metadata, err = types.ParseDocument(metadata)
	if err != nil {
		return types.Run{}, fmt.Errorf("failed to parse metadata of run %s: %w", id, err)
	}
	return run, nil
}

// SaveWorkflowSteps replaces a workflow's steps in one transaction.
func (s *PostgresStore) SaveWorkflowSteps(ctx context.Context, workflowID string, steps []types.ActionStep) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM action_steps WHERE workflow_id = $1", workflowID); err != nil {
		return fmt.Errorf("failed to clear steps of workflow %s: %w", workflowID, err)
	}

	for _, step := range steps {
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		parameters, err := step.Parameters.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal parameters of step %s: %w", step.ID, err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO action_steps (id, workflow_id, kind, sort_order, parameters, condition) VALUES ($1, $2, $3, $4, $5, $6)",
			step.ID, workflowID, step.Kind, step.SortOrder, parameters, step.Condition,
		); err != nil {
			return fmt.Errorf("failed to insert step %s: %w", step.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetWorkflowSteps retrieves a workflow's steps, ascending sort order.
func (s *PostgresStore) GetWorkflowSteps(ctx context.Context, workflowID string) ([]types.ActionStep, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, workflow_id, kind, sort_order, parameters, condition FROM action_steps WHERE workflow_id = $1 ORDER BY sort_order",
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var steps []types.ActionStep
	for rows.Next() {
		var (
			step       types.ActionStep
			parameters []byte
		)
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Kind, &step.SortOrder, &parameters, &step.Condition); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Parameters, err = types.ParseDocument(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to parse parameters of step %s: %w", step.ID, err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read steps of workflow %s: %w", workflowID, err)
	}
	if steps == nil {
		return nil, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, workflowID)
	}
	return steps, nil
}

// ListPendingOutbox returns up to limit outbox entries, oldest first.
func (s *PostgresStore) ListPendingOutbox(ctx context.Context, limit int) ([]types.OutboxEntry, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, run_id FROM run_outbox ORDER BY id LIMIT $1", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []types.OutboxEntry
	for rows.Next() {
		var (
			id    int64
			runID string
		)
		if err := rows.Scan(&id, &runID); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, types.OutboxEntry{ID: uint64(id), RunID: runID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	return entries, nil
}

// DeleteOutboxEntries removes entries by ID, ignoring missing ones.
func (s *PostgresStore) DeleteOutboxEntries(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	signed := make([]int64, len(ids))
	for i, id := range ids {
		signed[i] = int64(id)
	}
	if _, err := s.db.Exec(ctx, "DELETE FROM run_outbox WHERE id = ANY($1)", signed); err != nil {
		return fmt.Errorf("failed to delete outbox entries: %w", err)
	}
	return nil
}
