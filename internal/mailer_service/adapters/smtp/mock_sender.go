package smtp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

// MockSender is a simulated transport for development and tests. It records
// every delivery attempt so tests can assert against them.
type MockSender struct {
	logger *slog.Logger
	name   string

	mu         sync.Mutex
	deliveries []*domain.Message
	failWith   error
}

func NewMockSender(logger *slog.Logger, name string) *MockSender {
	if name == "" {
		name = "mock"
	}
	return &MockSender{logger: logger.With("sender", name), name: name}
}

func (s *MockSender) GetName() string { return s.name }

// FailWith makes subsequent Send calls return err. Pass nil to restore
// successful delivery.
func (s *MockSender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MockSender) Send(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries = append(s.deliveries, msg)
	if s.failWith != nil {
		s.logger.WarnContext(ctx, "MockSender: simulated failure", "subject", msg.Subject)
		return s.failWith
	}

	s.logger.InfoContext(ctx, "MockSender: mail sent (simulated)",
		"subject", msg.Subject, "recipients", len(msg.Recipients))
	return nil
}

// Deliveries returns every attempted delivery, successful or not.
func (s *MockSender) Deliveries() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Message, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}
