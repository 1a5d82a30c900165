package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcatalyst/pipeline/types"
)

type fakeSender struct {
	to      string
	subject string
	html    string
	calls   int
	err     error
}

func (s *fakeSender) Send(ctx context.Context, to, subject, html string) error {
	s.calls++
	s.to, s.subject, s.html = to, subject, html
	return s.err
}

func doc(t *testing.T, raw string) types.Document {
	t.Helper()
	d, err := types.ParseDocument([]byte(raw))
	require.NoError(t, err)
	return d
}

func TestNotifySendsEmail(t *testing.T) {
	sender := &fakeSender{}
	h := NewNotifyHandler(sender, nil)

	params := doc(t, `{"to":"dev@example.com","subject":"Hi","body":"You got 10 SOL"}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "dev@example.com", sender.to)
	assert.Equal(t, "Hi", sender.subject)
	assert.Equal(t, "You got 10 SOL", sender.html)
}

func TestNotifyDefaultSubject(t *testing.T) {
	sender := &fakeSender{}
	h := NewNotifyHandler(sender, nil)

	params := doc(t, `{"to":"dev@example.com","body":"hello"}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))
	assert.Equal(t, defaultSubject, sender.subject)
}

func TestNotifyValidation(t *testing.T) {
	h := NewNotifyHandler(&fakeSender{}, nil)

	err := h.Execute(context.Background(), doc(t, `{"body":"b"}`), doc(t, `{}`))
	assert.ErrorIs(t, err, ErrMissingRecipient)

	err = h.Execute(context.Background(), doc(t, `{"to":"dev@example.com"}`), doc(t, `{}`))
	assert.ErrorIs(t, err, ErrMissingBody)
}

func TestNotifyExpandsMultiItemTrigger(t *testing.T) {
	sender := &fakeSender{}
	h := NewNotifyHandler(sender, nil)

	params := doc(t, `{"to":"dev@example.com","body":"{{trigger.title}} at {{trigger.company}}"}`)
	trigger := doc(t, `{"jobs":[{"title":"Engineer","company":"Acme"},{"title":"Analyst","company":"Initech"}]}`)

	require.NoError(t, h.Execute(context.Background(), params, trigger))
	assert.Equal(t, "Engineer at Acme<br>Analyst at Initech<br>", sender.html)
}

func TestNotifySkipsExpansionWithoutItems(t *testing.T) {
	sender := &fakeSender{}
	h := NewNotifyHandler(sender, nil)

	params := doc(t, `{"to":"dev@example.com","body":"plain"}`)
	trigger := doc(t, `{"jobs":[]}`)

	require.NoError(t, h.Execute(context.Background(), params, trigger))
	assert.Equal(t, "plain", sender.html)
}

func TestNotifyWrapsSenderError(t *testing.T) {
	wantErr := errors.New("provider down")
	h := NewNotifyHandler(&fakeSender{err: wantErr}, nil)

	err := h.Execute(context.Background(), doc(t, `{"to":"a@b.c","body":"b"}`), doc(t, `{}`))
	assert.ErrorIs(t, err, wantErr)
}
