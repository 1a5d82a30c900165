package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/types"
)

var (
	ErrMissingAddress = errors.New("transfer: missing destination address")
	ErrInvalidAmount  = errors.New("transfer: amount must be a positive number")
)

// FundsGateway submits one funds transfer and returns the transaction
// signature. The concrete gateway owns key material and signing; this core
// only hands it a destination and an amount.
type FundsGateway interface {
	Transfer(ctx context.Context, to string, amount float64) (string, error)
}

// TransferHandler moves funds to the resolved destination address. The
// amount may arrive as a number or as a placeholder-resolved string.
type TransferHandler struct {
	gateway FundsGateway
	logger  *zap.Logger
}

// NewTransferHandler creates a TransferHandler.
func NewTransferHandler(gateway FundsGateway, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{gateway: gateway, logger: logger}
}

// Kind returns the action kind this handler serves.
func (h *TransferHandler) Kind() string { return KindTransfer }

// Execute validates the destination and amount and submits the transfer.
func (h *TransferHandler) Execute(ctx context.Context, params, trigger types.Document) error {
	to := params.GetString("to")
	if to == "" {
		to = params.GetString("address")
	}
	if to == "" {
		return ErrMissingAddress
	}

	amount, err := amountOf(params)
	if err != nil {
		return err
	}

	signature, err := h.gateway.Transfer(ctx, to, amount)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	h.logger.Info("funds transferred",
		zap.String("to", to),
		zap.Float64("amount", amount),
		zap.String("signature", signature),
	)
	return nil
}

func amountOf(params types.Document) (float64, error) {
	value, ok := params.Get("amount")
	if !ok {
		return 0, ErrInvalidAmount
	}

	var amount float64
	switch value.Kind() {
	case types.KindNumber:
		amount, _ = value.Number()
	case types.KindString:
		s, _ := value.Text()
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		amount = parsed
	default:
		return 0, ErrInvalidAmount
	}

	if amount <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return amount, nil
}

// HTTPFundsGateway is a thin client for a signing sidecar that performs the
// actual on-chain transfer.
type HTTPFundsGateway struct {
	url    string
	client *http.Client
}

// NewHTTPFundsGateway creates an HTTPFundsGateway posting to the given URL.
func NewHTTPFundsGateway(url string) *HTTPFundsGateway {
	return &HTTPFundsGateway{url: url, client: http.DefaultClient}
}

// Transfer submits the transfer and returns the reported signature.
func (g *HTTPFundsGateway) Transfer(ctx context.Context, to string, amount float64) (string, error) {
	requestBody, err := json.Marshal(map[string]interface{}{"to": to, "amount": amount})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("funds gateway returned status %d", resp.StatusCode)
	}

	var result struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return result.Signature, nil
}
