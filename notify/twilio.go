package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPI = "https://api.twilio.com"

// TwilioProvider sends WhatsApp messages through the Twilio REST API.
type TwilioProvider struct {
	client     *http.Client
	logger     *slog.Logger
	accountSID string
	authToken  string
	from       string
	to         string
	baseURL    string
}

// NewTwilioProvider creates a WhatsApp provider. from and to may omit the "whatsapp:" prefix.
func NewTwilioProvider(accountSID, authToken, from, to string, logger *slog.Logger) *TwilioProvider {
	return &TwilioProvider{
		client:     &http.Client{Timeout: ClientTimeout},
		logger:     logger,
		accountSID: accountSID,
		authToken:  authToken,
		from:       whatsappAddr(from),
		to:         whatsappAddr(to),
		baseURL:    twilioAPI,
	}
}

func whatsappAddr(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send posts one message and returns its SID.
func (t *TwilioProvider) Send(ctx context.Context, msg Message) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	form := url.Values{
		"From": {t.from},
		"To":   {t.to},
		"Body": {msg.Body},
	}

	t.logger.Info("Twilio API request starting",
		"method", "POST",
		"endpoint", "Messages.json",
		"to", t.to)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := t.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var tr twilioResponse
	if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if tr.Message != "" {
			return "", fmt.Errorf("HTTP %d: twilio error %d: %s", resp.StatusCode, tr.Code, tr.Message)
		}
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	t.logger.Info("Twilio API request completed",
		"sid", tr.SID,
		"status", tr.Status,
		"duration_ms", duration.Milliseconds())
	return tr.SID, nil
}
