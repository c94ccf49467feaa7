package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const mimeBoundary = "photowatch-alt-boundary"

// GmailProvider sends alerts via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
	to      string
}

// NewGmailService builds a Gmail client from a service-account JSON blob,
// falling back to Application Default Credentials when it is empty.
func NewGmailService(ctx context.Context, credentialsJSON string) (*gmail.Service, error) {
	if credentialsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return gmail.NewService(ctx)
}

// NewGmailProvider creates a new Gmail provider that delivers to a fixed address.
func NewGmailProvider(service *gmail.Service, to string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
		to:      to,
	}
}

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME assembles the raw RFC 5322 message: plain text, or
// multipart/alternative when an HTML body is present.
// The From address is set by Gmail based on the authenticated account.
func buildMIME(to string, msg Message) string {
	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "To: %s\r\n", sanitizeEmailHeader(to))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeEmailHeader(msg.Subject))
	if msg.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Body)
		return b.String()
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, msg.Body)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, msg.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return b.String()
}

// Send sends the alert and returns the Gmail message ID.
func (g *GmailProvider) Send(ctx context.Context, msg Message) (string, error) {
	encoded := base64.URLEncoding.EncodeToString([]byte(buildMIME(g.to, msg)))

	g.logger.Info("Gmail API request starting",
		"method", "POST",
		"endpoint", "users.messages.send",
		"to", g.to)

	startTime := time.Now()
	sent, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"to", g.to,
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return sent.Id, nil
}
