package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends email alerts via the Brevo (formerly Sendinblue) API.
type BrevoProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	fromAddr string
	fromName string
	to       string
	endpoint string
}

// NewBrevoProvider creates a new Brevo provider.
func NewBrevoProvider(apiKey, fromAddr, fromName, to string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		client:   &http.Client{Timeout: ClientTimeout},
		logger:   logger,
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		to:       to,
		endpoint: brevoAPI,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	Text    string         `json:"textContent"`
	HTML    string         `json:"htmlContent,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send sends the alert and returns Brevo's message ID.
func (b *BrevoProvider) Send(ctx context.Context, msg Message) (string, error) {
	jsonData, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: b.to}},
		Subject: msg.Subject,
		Text:    msg.Body,
		HTML:    msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	b.logger.Info("Brevo API request starting",
		"method", "POST",
		"endpoint", "smtp/email",
		"to", b.to,
		"subject", msg.Subject)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	startTime := time.Now()
	resp, err := b.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("brevo request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var out brevoSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	b.logger.Info("Brevo API request completed",
		"endpoint", "smtp/email",
		"message_id", out.MessageID,
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return out.MessageID, nil
}
