package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Run is one execution instance of a workflow, carrying the payload the
// trigger captured at ingestion time. Runs are created by the ingestion tier
// and are read-only to the pipeline afterwards.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Metadata   Document  `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// OutboxEntry is a durable marker that a run exists and its first stage has
// not yet been confirmed published. It is created in the same transaction as
// its Run and deleted by the publisher only after a publish call returned.
type OutboxEntry struct {
	ID    uint64 `json:"id"`
	RunID string `json:"run_id"`
}

// ActionStep is one step of a workflow definition. SortOrder values form a
// dense 0..N-1 sequence per workflow and define strict execution order.
// Condition is an optional boolean expression over the trigger payload; an
// empty condition always runs the step.
type ActionStep struct {
	ID         string   `json:"id"`
	WorkflowID string   `json:"workflow_id"`
	Kind       string   `json:"kind"`
	SortOrder  int      `json:"sort_order"`
	Parameters Document `json:"parameters"`
	Condition  string   `json:"condition,omitempty"`
}

// StageMessage is the unit of work on the event log. One message drives the
// execution of the action step whose sort order equals Stage. Attempt counts
// redeliveries of the same stage under the dead-letter policy.
type StageMessage struct {
	RunID   string `json:"runId"`
	Stage   int    `json:"stage"`
	Attempt int    `json:"attempt,omitempty"`
}

// Encode serializes the message for the event log.
func (m StageMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeStageMessage parses an event log message body.
func DecodeStageMessage(body []byte) (StageMessage, error) {
	var m StageMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return StageMessage{}, fmt.Errorf("malformed stage message: %w", err)
	}
	if m.RunID == "" {
		return StageMessage{}, fmt.Errorf("malformed stage message: missing runId")
	}
	if m.Stage < 0 {
		return StageMessage{}, fmt.Errorf("malformed stage message: negative stage %d", m.Stage)
	}
	return m, nil
}
