package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSheetClient struct {
	rows, cols int
	missing    bool

	created  []string
	startRow int
	appended [][]string
	dimsErr  error
}

func (c *fakeSheetClient) Dimensions(ctx context.Context, spreadsheetID, sheet string) (int, int, error) {
	if c.dimsErr != nil {
		return 0, 0, c.dimsErr
	}
	if c.missing {
		return 0, 0, ErrSheetNotFound
	}
	return c.rows, c.cols, nil
}

func (c *fakeSheetClient) CreateSheet(ctx context.Context, spreadsheetID, sheet string) error {
	c.created = append(c.created, sheet)
	c.missing = false
	return nil
}

func (c *fakeSheetClient) Append(ctx context.Context, spreadsheetID, sheet string, startRow int, rows [][]string) error {
	c.startRow = startRow
	c.appended = rows
	return nil
}

func TestSheetsAppendsBelowExistingRows(t *testing.T) {
	client := &fakeSheetClient{rows: 3, cols: 2}
	h := NewSheetsHandler(client, nil)

	params := doc(t, `{"spreadsheetId":"ss-1","sheet":"Data","values":[["a","b"]]}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Empty(t, client.created)
	assert.Equal(t, 4, client.startRow)
	assert.Equal(t, [][]string{{"a", "b"}}, client.appended)
}

func TestSheetsCreatesMissingSheet(t *testing.T) {
	client := &fakeSheetClient{missing: true}
	h := NewSheetsHandler(client, nil)

	params := doc(t, `{"spreadsheetId":"ss-1","sheet":"New","values":["x"]}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Equal(t, []string{"New"}, client.created)
	assert.Equal(t, 1, client.startRow)
	assert.Equal(t, [][]string{{"x"}}, client.appended)
}

func TestSheetsPadsRowsToWidth(t *testing.T) {
	client := &fakeSheetClient{rows: 1, cols: 4}
	h := NewSheetsHandler(client, nil)

	params := doc(t, `{"spreadsheetId":"ss-1","values":[["a"],["b","c"]]}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Equal(t, [][]string{
		{"a", "", "", ""},
		{"b", "c", "", ""},
	}, client.appended)
}

func TestSheetsFlatValuesBecomeSingleRow(t *testing.T) {
	client := &fakeSheetClient{}
	h := NewSheetsHandler(client, nil)

	params := doc(t, `{"spreadsheetId":"ss-1","values":["a",2,true]}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))

	assert.Equal(t, [][]string{{"a", "2", "true"}}, client.appended)
}

func TestSheetsDefaultSheetName(t *testing.T) {
	client := &fakeSheetClient{missing: true}
	h := NewSheetsHandler(client, nil)

	params := doc(t, `{"spreadsheetId":"ss-1","values":["x"]}`)
	require.NoError(t, h.Execute(context.Background(), params, doc(t, `{}`)))
	assert.Equal(t, []string{defaultSheetName}, client.created)
}

func TestSheetsValidation(t *testing.T) {
	h := NewSheetsHandler(&fakeSheetClient{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"values":["x"]}`), doc(t, `{}`)), ErrMissingSpreadsheet)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"spreadsheetId":"ss"}`), doc(t, `{}`)), ErrMissingValues)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"spreadsheetId":"ss","values":[]}`), doc(t, `{}`)), ErrMissingValues)
	assert.ErrorIs(t, h.Execute(ctx, doc(t, `{"spreadsheetId":"ss","values":"x"}`), doc(t, `{}`)), ErrMissingValues)
}

func TestSheetsWrapsClientError(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	h := NewSheetsHandler(&fakeSheetClient{dimsErr: wantErr}, nil)

	err := h.Execute(context.Background(), doc(t, `{"spreadsheetId":"ss","values":["x"]}`), doc(t, `{}`))
	assert.ErrorIs(t, err, wantErr)
}
