package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// MockProvider is a provider for local development that only logs.
type MockProvider struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, msg Message) (string, error) {
	n := m.sent.Add(1)
	m.logger.Info("MOCK NOTIFICATION",
		"subject", msg.Subject,
		"body", msg.Body)
	return fmt.Sprintf("mock-%d", n), nil
}
