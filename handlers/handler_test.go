package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcatalyst/pipeline/types"
)

type recordingHandler struct {
	kind   string
	params types.Document
	calls  int
	err    error
}

func (h *recordingHandler) Kind() string { return h.kind }

func (h *recordingHandler) Execute(ctx context.Context, params, trigger types.Document) error {
	h.calls++
	h.params = params
	return h.err
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	h := &recordingHandler{kind: "custom"}
	reg.Register(h)

	params := doc(t, `{"to":"{{trigger.email}}"}`)
	trigger := doc(t, `{"email":"dev@example.com"}`)

	require.NoError(t, reg.Dispatch(context.Background(), "custom", params, trigger))
	require.Equal(t, 1, h.calls)

	// Placeholders are resolved before the handler sees the parameters.
	assert.Equal(t, "dev@example.com", h.params.GetString("to"))
}

func TestRegistryDispatchUnknownKind(t *testing.T) {
	reg := NewRegistry()

	err := reg.Dispatch(context.Background(), "nope", doc(t, `{}`), doc(t, `{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	first := &recordingHandler{kind: "k"}
	second := &recordingHandler{kind: "k"}
	reg.Register(first)
	reg.Register(second)

	require.NoError(t, reg.Dispatch(context.Background(), "k", doc(t, `{}`), doc(t, `{}`)))
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestRegistryKinds(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&recordingHandler{kind: "a"})
	reg.Register(&recordingHandler{kind: "b"})

	assert.ElementsMatch(t, []string{"a", "b"}, reg.Kinds())
}
