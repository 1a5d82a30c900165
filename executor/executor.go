// Package executor consumes stage messages and drives runs through their
// ordered action steps.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/eventlog"
	"github.com/flowcatalyst/pipeline/events"
	"github.com/flowcatalyst/pipeline/handlers"
	"github.com/flowcatalyst/pipeline/rules"
	"github.com/flowcatalyst/pipeline/storage"
	"github.com/flowcatalyst/pipeline/types"
)

// Standard error definitions
var (
	ErrStoreRequired    = errors.New("store is required")
	ErrEventLogRequired = errors.New("event log is required")
	ErrRegistryRequired = errors.New("handler registry is required")
	ErrUnknownPolicy    = errors.New("unknown failure policy")
)

// Policy selects what the executor does when a handler invocation fails.
type Policy string

const (
	// PolicyContinue logs the failure and advances to the next stage.
	PolicyContinue Policy = "continue"
	// PolicyHalt leaves the message unacknowledged so the stage is
	// redelivered and retried.
	PolicyHalt Policy = "halt"
	// PolicyDeadLetter retries the stage up to MaxAttempts redeliveries,
	// then parks the message on the dead-letter topic without advancing.
	PolicyDeadLetter Policy = "deadletter"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyContinue, PolicyHalt, PolicyDeadLetter:
		return Policy(s), nil
	case "":
		return PolicyContinue, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Config controls the consume loop.
type Config struct {
	Topic          string
	DLQTopic       string
	FetchBatch     int
	FetchBlock     time.Duration
	StageDelay     time.Duration
	HandlerTimeout time.Duration
	FailurePolicy  Policy
	MaxAttempts    int
}

func (c *Config) normalize() {
	if c.Topic == "" {
		c.Topic = "workflow-events"
	}
	if c.DLQTopic == "" {
		c.DLQTopic = c.Topic + ".dlq"
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 10
	}
	if c.FetchBlock <= 0 {
		c.FetchBlock = 5 * time.Second
	}
	if c.StageDelay <= 0 {
		c.StageDelay = 500 * time.Millisecond
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicyContinue
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// Executor drives runs through their ordered action steps, one stage per
// message. Forward progress (publishing stage k+1 and committing the
// consumption offset) happens only after the stage-k side effect attempt
// finishes, so a crash mid-stage causes redelivery, never a skipped stage.
type Executor struct {
	store     storage.Store
	log       eventlog.EventLog
	registry  *handlers.Registry
	evaluator rules.Evaluator
	bus       *events.EventBus
	logger    *zap.Logger
	cfg       Config
}

// New creates an Executor.
func New(store storage.Store, log eventlog.EventLog, registry *handlers.Registry, logger *zap.Logger, cfg Config) (*Executor, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if log == nil {
		return nil, ErrEventLogRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()

	return &Executor{
		store:     store,
		log:       log,
		registry:  registry,
		evaluator: rules.NewExprEvaluator(),
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// SetEvaluator sets a custom evaluator for step conditions.
func (e *Executor) SetEvaluator(evaluator rules.Evaluator) {
	if evaluator == nil {
		return
	}
	e.evaluator = evaluator
}

// SetEventBus attaches a lifecycle event bus. Without one, lifecycle events
// are not emitted.
func (e *Executor) SetEventBus(bus *events.EventBus) {
	e.bus = bus
}

// Run consumes stage messages until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("stage executor started",
		zap.String("topic", e.cfg.Topic),
		zap.String("failure_policy", string(e.cfg.FailurePolicy)),
		zap.Strings("action_kinds", e.registry.Kinds()),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stage executor stopped")
			return ctx.Err()
		default:
		}

		messages, err := e.log.Fetch(ctx, e.cfg.Topic, e.cfg.FetchBatch, e.cfg.FetchBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("failed to fetch stage messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			if err := e.process(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Transient failure: the message stays unacknowledged and
				// will be redelivered.
				e.logger.Error("failed to process stage message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// process handles one stage message end to end. A nil return means the
// message is settled (acknowledged or deliberately left for redelivery); a
// non-nil return means a transient failure before the side effect attempt.
func (e *Executor) process(ctx context.Context, msg eventlog.Message) error {
	stageMsg, err := types.DecodeStageMessage(msg.Body)
	if err != nil {
		e.logger.Warn("dropping malformed stage message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return e.drop(ctx, msg, stageMsg, "malformed message")
	}

	run, err := e.store.GetRun(ctx, stageMsg.RunID)
	if errors.Is(err, storage.ErrRunNotFound) {
		e.logger.Warn("dropping stage message for unknown run",
			zap.String("run_id", stageMsg.RunID),
			zap.Int("stage", stageMsg.Stage),
		)
		return e.drop(ctx, msg, stageMsg, "unknown run")
	} else if err != nil {
		return fmt.Errorf("failed to load run %s: %w", stageMsg.RunID, err)
	}

	steps, err := e.store.GetWorkflowSteps(ctx, run.WorkflowID)
	if errors.Is(err, storage.ErrWorkflowNotFound) {
		e.logger.Warn("dropping stage message for unknown workflow",
			zap.String("run_id", run.ID),
			zap.String("workflow_id", run.WorkflowID),
		)
		return e.drop(ctx, msg, stageMsg, "unknown workflow")
	} else if err != nil {
		return fmt.Errorf("failed to load steps of workflow %s: %w", run.WorkflowID, err)
	}

	step, ok := stepAt(steps, stageMsg.Stage)
	if !ok {
		e.logger.Warn("no action step at stage",
			zap.String("run_id", run.ID),
			zap.Int("stage", stageMsg.Stage),
			zap.Int("steps", len(steps)),
		)
		return e.drop(ctx, msg, stageMsg, "no action step at stage")
	}

	if settled, err := e.executeStage(ctx, msg, stageMsg, run, step); settled || err != nil {
		return err
	}

	// Crude self-throttle against downstream rate limits.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.StageDelay):
	}

	if stageMsg.Stage < len(steps)-1 {
		if err := e.publishStage(ctx, e.cfg.Topic, types.StageMessage{RunID: run.ID, Stage: stageMsg.Stage + 1}); err != nil {
			// No ack: the whole stage is redelivered rather than losing the
			// follow-up message.
			return fmt.Errorf("failed to publish stage %d of run %s: %w", stageMsg.Stage+1, run.ID, err)
		}
	} else {
		e.emit(ctx, events.EventRunCompleted, stageMsg, nil)
		e.logger.Info("run completed",
			zap.String("run_id", run.ID),
			zap.Int("stages", len(steps)),
		)
	}

	e.ack(ctx, msg)
	return nil
}

// executeStage evaluates the step condition and invokes the handler under
// the uniform failure wrapper. It reports settled=true when the message
// needs no further progression here (halt or dead-letter path).
func (e *Executor) executeStage(ctx context.Context, msg eventlog.Message, stageMsg types.StageMessage, run types.Run, step types.ActionStep) (bool, error) {
	if step.Condition != "" {
		match, err := e.evaluator.Evaluate(step.Condition, run.Metadata)
		if err != nil {
			// An unevaluable condition must not fire side effects; skip the
			// step but keep the run moving.
			e.logger.Error("step condition failed to evaluate",
				zap.String("run_id", run.ID),
				zap.String("step_id", step.ID),
				zap.Error(err),
			)
			e.emit(ctx, events.EventStageSkipped, stageMsg, map[string]interface{}{"error": err.Error()})
			return false, nil
		}
		if !match {
			e.logger.Info("step condition not met",
				zap.String("run_id", run.ID),
				zap.String("step_id", step.ID),
			)
			e.emit(ctx, events.EventStageSkipped, stageMsg, nil)
			return false, nil
		}
	}

	e.emit(ctx, events.EventStageStarted, stageMsg, map[string]interface{}{"kind": step.Kind})
	err := e.invoke(ctx, step, run)
	if err == nil {
		e.emit(ctx, events.EventStageCompleted, stageMsg, map[string]interface{}{"kind": step.Kind})
		return false, nil
	}

	if errors.Is(err, handlers.ErrUnknownKind) {
		// Fail closed: skip the step rather than crash or retry forever.
		e.logger.Warn("unknown action kind",
			zap.String("run_id", run.ID),
			zap.String("kind", step.Kind),
		)
		e.emit(ctx, events.EventStageSkipped, stageMsg, map[string]interface{}{"kind": step.Kind})
		return false, nil
	}

	e.logger.Error("handler failed",
		zap.String("run_id", run.ID),
		zap.String("kind", step.Kind),
		zap.Int("stage", stageMsg.Stage),
		zap.Int("attempt", stageMsg.Attempt),
		zap.Error(err),
	)
	e.emit(ctx, events.EventHandlerFailed, stageMsg, map[string]interface{}{
		"kind":  step.Kind,
		"error": err.Error(),
	})

	switch e.cfg.FailurePolicy {
	case PolicyHalt:
		// Leave the message pending; the log redelivers it. Pending entries
		// come back on the very next fetch, so hold the retry here or a
		// persistent failure busy-loops against the provider.
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.StageDelay):
		}
		return true, nil

	case PolicyDeadLetter:
		if stageMsg.Attempt+1 < e.cfg.MaxAttempts {
			retry := stageMsg
			retry.Attempt++
			if err := e.publishStage(ctx, e.cfg.Topic, retry); err != nil {
				return true, fmt.Errorf("failed to republish stage for retry: %w", err)
			}
		} else {
			if err := e.publishStage(ctx, e.cfg.DLQTopic, stageMsg); err != nil {
				return true, fmt.Errorf("failed to publish to dead-letter topic: %w", err)
			}
			e.emit(ctx, events.EventDeadLettered, stageMsg, map[string]interface{}{"kind": step.Kind})
			e.logger.Error("stage dead-lettered",
				zap.String("run_id", run.ID),
				zap.Int("stage", stageMsg.Stage),
				zap.String("topic", e.cfg.DLQTopic),
			)
		}
		e.ack(ctx, msg)
		return true, nil

	default: // PolicyContinue: the run keeps progressing past the failure.
		return false, nil
	}
}

// invoke runs one handler under the per-invocation timeout, converting
// panics into errors so one bad handler cannot take down the consumer.
func (e *Executor) invoke(ctx context.Context, step types.ActionStep, run types.Run) (err error) {
	invokeCtx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return e.registry.Dispatch(invokeCtx, step.Kind, step.Parameters, run.Metadata)
}

func (e *Executor) publishStage(ctx context.Context, topic string, stageMsg types.StageMessage) error {
	body, err := stageMsg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode stage message: %w", err)
	}
	return e.log.Publish(ctx, topic, stageMsg.RunID, body)
}

// drop settles a non-fatal anomaly: the offset is still committed so the
// partition is not blocked.
func (e *Executor) drop(ctx context.Context, msg eventlog.Message, stageMsg types.StageMessage, reason string) error {
	e.emit(ctx, events.EventMessageDropped, stageMsg, map[string]interface{}{"reason": reason})
	e.ack(ctx, msg)
	return nil
}

func (e *Executor) ack(ctx context.Context, msg eventlog.Message) {
	if err := e.log.Ack(ctx, e.cfg.Topic, msg.ID); err != nil {
		// Redelivery of an acknowledged-but-unrecorded message is the
		// at-least-once cost; handlers tolerate it.
		e.logger.Warn("failed to commit offset",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (e *Executor) emit(ctx context.Context, eventType string, stageMsg types.StageMessage, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, events.Event{
		Type:  eventType,
		RunID: stageMsg.RunID,
		Stage: stageMsg.Stage,
		Data:  data,
	})
}

func stepAt(steps []types.ActionStep, stage int) (types.ActionStep, bool) {
	for _, step := range steps {
		if step.SortOrder == stage {
			return step, true
		}
	}
	return types.ActionStep{}, false
}
