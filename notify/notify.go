// Package notify delivers change alerts to the operator via pluggable providers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"photowatch/pkg/photowatch"
)

// ClientTimeout bounds one HTTP delivery attempt of the REST providers.
const ClientTimeout = 30 * time.Second

// Message is a provider-neutral alert. Channels without subjects only send Body.
type Message struct {
	Subject string
	Body    string
	HTML    string // Optional rich body for email channels
}

// Provider defines the interface for notification delivery implementations.
type Provider interface {
	// Send delivers msg once and returns the provider's delivery identifier.
	Send(ctx context.Context, msg Message) (string, error)
}

// Sender sends alerts using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{provider: provider, logger: logger}
}

// Send delivers msg. Failures are returned to the caller and never retried here.
func (s *Sender) Send(ctx context.Context, msg Message) (string, error) {
	s.logger.Info("Sending notification", "subject", msg.Subject, "body_length", len(msg.Body))

	startTime := time.Now()
	id, err := s.provider.Send(ctx, msg)
	duration := time.Since(startTime)
	if err != nil {
		s.logger.Warn("Notification failed",
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return "", fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Notification sent",
		"delivery_id", id,
		"duration_ms", duration.Milliseconds())
	return id, nil
}

// ChangeMessage formats the alert for a newly recorded photo state.
// Times are rendered in loc, or UTC when loc is nil.
func ChangeMessage(o *photowatch.Observation, loc *time.Location) Message {
	if loc == nil {
		loc = time.UTC
	}
	fp := o.Fingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}

	var b strings.Builder
	b.WriteString("The watched profile photo changed.\n")
	fmt.Fprintf(&b, "Detected: %s (%s)\n", o.ObservedAt.In(loc).Format("02 Jan 06 15:04"), loc)
	fmt.Fprintf(&b, "Fingerprint: %s\n", fp)
	if o.Location != nil {
		fmt.Fprintf(&b, "Location: %.6f, %.6f\n", o.Location.Latitude, o.Location.Longitude)
	}
	fmt.Fprintf(&b, "Photo: %s", o.SourceURL)

	return Message{
		Subject: "Profile photo changed",
		Body:    b.String(),
		HTML:    changeHTML(o, loc, fp),
	}
}
