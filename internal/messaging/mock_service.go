package messaging

import (
	"context"
	"sync"

	"github.com/auriance-health/auriance/internal/models"
)

// SentMessage is one message recorded by MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-process Service for tests. Deliver injects inbound
// messages and Sent returns what was sent.
type MockService struct {
	inbox *inbox

	mu      sync.Mutex
	sent    []SentMessage
	SendErr error
	onSend  chan SentMessage
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{
		inbox:  newInbox("mock"),
		onSend: make(chan SentMessage, DefaultChannelBufferSize),
	}
}

// Name returns "mock".
func (m *MockService) Name() string { return "mock" }

// ValidateAndCanonicalizeRecipient applies the phone number rules of the real services.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// SendMessage records the message, or returns SendErr when set.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	if m.inbox.isStopped() {
		return ErrServiceStopped
	}
	m.mu.Lock()
	if m.SendErr != nil {
		m.mu.Unlock()
		return m.SendErr
	}
	msg := SentMessage{To: to, Body: body}
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	select {
	case m.onSend <- msg:
	default:
	}
	return nil
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error { return nil }

// Stop closes the Messages channel.
func (m *MockService) Stop() error {
	m.inbox.close()
	return nil
}

// Messages returns the channel of injected messages.
func (m *MockService) Messages() <-chan models.InboundMessage { return m.inbox.ch }

// Deliver injects an inbound message.
func (m *MockService) Deliver(msg models.InboundMessage) bool { return m.inbox.emit(msg) }

// Sent returns a copy of the recorded messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SentCh receives every successfully sent message.
func (m *MockService) SentCh() <-chan SentMessage { return m.onSend }
