// Package handlers contains the action handlers the executor dispatches to.
// Each handler performs exactly one external side effect given resolved
// parameters.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flowcatalyst/pipeline/parser"
	"github.com/flowcatalyst/pipeline/types"
)

// Action kinds known to this system. The kind is the string discriminator
// stored on the action step.
const (
	KindEmail    = "email"
	KindTransfer = "send-sol"
	KindSheets   = "sheets-append"
)

// ErrUnknownKind is returned when no handler is registered for an action
// kind. The executor treats it as fail-closed: log and skip.
var ErrUnknownKind = errors.New("no handler registered for action kind")

// Handler performs one external side effect. Params arrive with placeholder
// tokens already resolved against the trigger payload; the payload itself is
// provided for handlers that expand multi-item triggers. Handlers validate
// their required fields and fail fast instead of attempting a partial side
// effect. Side effects may repeat under at-least-once delivery, so handlers
// should be idempotent where the downstream system allows.
type Handler interface {
	Kind() string
	Execute(ctx context.Context, params types.Document, trigger types.Document) error
}

// Registry maps action kinds to handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its kind, replacing any previous one.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Kinds returns the registered action kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Dispatch resolves the step's parameter template against the trigger
// payload and invokes the matching handler. Unknown kinds return
// ErrUnknownKind.
func (r *Registry) Dispatch(ctx context.Context, kind string, params, trigger types.Document) error {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	resolved := parser.Resolve(params, trigger)
	return h.Execute(ctx, resolved, trigger)
}
