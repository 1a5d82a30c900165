package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	to     string
	amount float64
	calls  int
	err    error
}

func (g *fakeGateway) Transfer(ctx context.Context, to string, amount float64) (string, error) {
	g.calls++
	g.to, g.amount = to, amount
	return "sig-1", g.err
}

func TestTransferSubmitsFunds(t *testing.T) {
	gw := &fakeGateway{}
	h := NewTransferHandler(gw, nil)

	params := doc(t, `{"to":"addr-1","amount":10}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, "addr-1", gw.to)
	assert.Equal(t, 10.0, gw.amount)
}

func TestTransferStringAmount(t *testing.T) {
	gw := &fakeGateway{}
	h := NewTransferHandler(gw, nil)

	params := doc(t, `{"to":"addr-1","amount":"10.5"}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))
	assert.Equal(t, 10.5, gw.amount)
}

func TestTransferAddressFallback(t *testing.T) {
	gw := &fakeGateway{}
	h := NewTransferHandler(gw, nil)

	params := doc(t, `{"address":"addr-2","amount":1}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))
	assert.Equal(t, "addr-2", gw.to)
}

func TestTransferValidation(t *testing.T) {
	gw := &fakeGateway{}
	h := NewTransferHandler(gw, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"amount":1}`), doc(t, `{}`)), ErrMissingAddress)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"to":"a"}`), doc(t, `{}`)), ErrInvalidAmount)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"to":"a","amount":0}`), doc(t, `{}`)), ErrInvalidAmount)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"to":"a","amount":-2}`), doc(t, `{}`)), ErrInvalidAmount)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"to":"a","amount":"{{trigger.amount}}"}`), doc(t, `{}`)), ErrInvalidAmount)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"to":"a","amount":true}`), doc(t, `{}`)), ErrInvalidAmount)

	assert.Equal(t, 0, gw.calls, "invalid input must not reach the gateway")
}

func TestTransferWrapsGatewayError(t *testing.T) {
	wantErr := errors.New("rpc timeout")
	h := NewTransferHandler(&fakeGateway{err: wantErr}, nil)

	err := h.Execute(context.Background(), doc(t, `{"to":"a","amount":1}`), doc(t, `{}`))
	assert.ErrorIs(t, err, wantErr)
}
