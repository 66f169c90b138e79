// Package mailer builds email jobs from pending notifications and delivers
// them with bounded retries.
package mailer

import (
	"context"
	"log/slog"
	"time"
)

// Transport delivers one rendered email to one recipient.
type Transport interface {
	// Send delivers the message. A non-nil error means the attempt failed
	// and may be retried.
	Send(ctx context.Context, to, subject, body string) error
	// Name identifies the transport in logs and stats.
	Name() string
}

// MockTransport logs outbound mail instead of sending it. Used in
// development and whenever no SMTP server is configured.
type MockTransport struct {
	logger *slog.Logger
	delay  time.Duration
}

// NewMockTransport creates a logging transport with a small simulated
// delivery delay.
func NewMockTransport(logger *slog.Logger) *MockTransport {
	return &MockTransport{
		logger: logger.With("component", "mock-transport"),
		delay:  100 * time.Millisecond,
	}
}

// Send logs the message and succeeds.
func (m *MockTransport) Send(ctx context.Context, to, subject, body string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}

	m.logger.Info("mock email sent", "to", to, "subject", subject, "body_bytes", len(body))
	return nil
}

func (m *MockTransport) Name() string { return "mock" }
