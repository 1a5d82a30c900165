package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/parser"
	"github.com/flowcatalyst/pipeline/types"
)

var (
	ErrMissingRecipient = errors.New("notify: missing recipient")
	ErrMissingBody      = errors.New("notify: missing body")
)

const defaultSubject = "Automated notification"

// The trigger payload key whose array items expand the body template once
// per item.
const multiItemKey = "jobs"

// EmailSender delivers one email. Implementations wrap the concrete
// provider; tests use fakes.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// NotifyHandler sends an email built from the resolved parameters. When the
// trigger payload carries an array under the "jobs" key, the body template
// is rendered once per item and concatenated, so per-item tokens left
// unresolved by the run-level pass resolve against each item.
type NotifyHandler struct {
	sender EmailSender
	logger *zap.Logger
}

// NewNotifyHandler creates a NotifyHandler.
func NewNotifyHandler(sender EmailSender, logger *zap.Logger) *NotifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyHandler{sender: sender, logger: logger}
}

// Kind returns the action kind this handler serves.
func (h *NotifyHandler) Kind() string { return KindEmail }

// Execute validates the recipient and body and sends the email.
func (h *NotifyHandler) Execute(ctx context.Context, params, trigger types.Document) error {
	to := params.GetString("to")
	if to == "" {
		return ErrMissingRecipient
	}
	body := params.GetString("body")
	if body == "" {
		return ErrMissingBody
	}
	subject := params.GetString("subject")
	if subject == "" {
		subject = defaultSubject
	}

	html := body
	if items, ok := trigger.Get(multiItemKey); ok && items.Kind() == types.KindArray && items.Len() > 0 {
		var b strings.Builder
		for _, item := range items.Items() {
			b.WriteString(parser.ResolveString(body, item))
			b.WriteString("<br>")
		}
		html = b.String()
	}

	if err := h.sender.Send(ctx, to, subject, html); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	h.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// HTTPEmailSender is a thin REST client for a transactional email provider.
type HTTPEmailSender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// NewHTTPEmailSender creates an HTTPEmailSender posting to the given API URL.
func NewHTTPEmailSender(url, apiKey, from string) *HTTPEmailSender {
	return &HTTPEmailSender{url: url, apiKey: apiKey, from: from, client: http.DefaultClient}
}

// Send posts one email to the provider.
func (s *HTTPEmailSender) Send(ctx context.Context, to, subject, html string) error {
	requestBody, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      to,
		"subject": subject,
		"html":    fmt.Sprintf("<div>%s</div>", html),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	return nil
}
