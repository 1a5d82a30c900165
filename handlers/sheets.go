package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/types"
)

var (
	ErrMissingSpreadsheet = errors.New("sheets: missing spreadsheet id")
	ErrMissingValues      = errors.New("sheets: missing values to append")

	// ErrSheetNotFound is reported by SheetClient implementations when the
	// named sheet does not exist in the spreadsheet.
	ErrSheetNotFound = errors.New("sheet not found")
)

const defaultSheetName = "Sheet1"

// SheetClient talks to the external spreadsheet ledger.
type SheetClient interface {
	// Dimensions reports the last filled row and the widest column count of
	// a sheet. Missing sheets yield ErrSheetNotFound.
	Dimensions(ctx context.Context, spreadsheetID, sheet string) (rows, cols int, err error)

	// CreateSheet adds an empty sheet with the given name.
	CreateSheet(ctx context.Context, spreadsheetID, sheet string) error

	// Append writes rows starting at the given 1-based row index.
	Append(ctx context.Context, spreadsheetID, sheet string, startRow int, rows [][]string) error
}

// SheetsHandler appends rows to a named sheet, creating the sheet when
// absent and padding rows so column counts align with the existing data.
type SheetsHandler struct {
	client SheetClient
	logger *zap.Logger
}

// NewSheetsHandler creates a SheetsHandler.
func NewSheetsHandler(client SheetClient, logger *zap.Logger) *SheetsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetsHandler{client: client, logger: logger}
}

// Kind returns the action kind this handler serves.
func (h *SheetsHandler) Kind() string { return KindSheets }

// Execute appends the resolved values to the target sheet.
func (h *SheetsHandler) Execute(ctx context.Context, params, trigger types.Document) error {
	spreadsheetID := params.GetString("spreadsheetId")
	if spreadsheetID == "" {
		return ErrMissingSpreadsheet
	}
	sheet := params.GetString("sheet")
	if sheet == "" {
		sheet = defaultSheetName
	}

	values, ok := params.Get("values")
	if !ok || values.Kind() != types.KindArray || values.Len() == 0 {
		return ErrMissingValues
	}
	rows := toRows(values)

	lastRow, cols, err := h.client.Dimensions(ctx, spreadsheetID, sheet)
	if errors.Is(err, ErrSheetNotFound) {
		if err := h.client.CreateSheet(ctx, spreadsheetID, sheet); err != nil {
			return fmt.Errorf("sheets: %w", err)
		}
		lastRow, cols = 0, 0
	} else if err != nil {
		return fmt.Errorf("sheets: %w", err)
	}

	width := cols
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}

	if err := h.client.Append(ctx, spreadsheetID, sheet, lastRow+1, rows); err != nil {
		return fmt.Errorf("sheets: %w", err)
	}

	h.logger.Info("rows appended",
		zap.String("spreadsheet", spreadsheetID),
		zap.String("sheet", sheet),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// toRows converts a values document into rows of cells. An array of arrays
// is taken as-is; a flat array becomes a single row.
func toRows(values types.Document) [][]string {
	items := values.Items()

	nested := true
	for _, item := range items {
		if item.Kind() != types.KindArray {
			nested = false
			break
		}
	}

	if !nested {
		row := make([]string, 0, len(items))
		for _, item := range items {
			row = append(row, item.Scalar())
		}
		return [][]string{row}
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		row := make([]string, 0, item.Len())
		for _, cell := range item.Items() {
			row = append(row, cell.Scalar())
		}
		rows = append(rows, row)
	}
	return rows
}

// HTTPSheetClient is a thin REST client for the spreadsheet provider.
type HTTPSheetClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSheetClient creates an HTTPSheetClient for the given API base URL.
func NewHTTPSheetClient(baseURL, token string) *HTTPSheetClient {
	return &HTTPSheetClient{baseURL: baseURL, token: token, client: http.DefaultClient}
}

// Dimensions fetches the sheet's current values and reports its extent.
func (c *HTTPSheetClient) Dimensions(ctx context.Context, spreadsheetID, sheet string) (int, int, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, spreadsheetID, url.PathEscape(sheet))
	var result struct {
		Values [][]interface{} `json:"values"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return 0, 0, err
	}

	cols := 0
	for _, row := range result.Values {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return len(result.Values), cols, nil
}

// CreateSheet adds an empty sheet to the spreadsheet.
func (c *HTTPSheetClient) CreateSheet(ctx context.Context, spreadsheetID, sheet string) error {
	endpoint := fmt.Sprintf("%s/%s:batchUpdate", c.baseURL, spreadsheetID)
	body := map[string]interface{}{
		"requests": []interface{}{
			map[string]interface{}{
				"addSheet": map[string]interface{}{
					"properties": map[string]interface{}{"title": sheet},
				},
			},
		},
	}
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Append writes rows starting at the given row index.
func (c *HTTPSheetClient) Append(ctx context.Context, spreadsheetID, sheet string, startRow int, rows [][]string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s!A%d:append?valueInputOption=RAW",
		c.baseURL, spreadsheetID, url.PathEscape(sheet), startRow)
	body := map[string]interface{}{"values": rows}
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

func (c *HTTPSheetClient) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call spreadsheet provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("spreadsheet provider returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}
