// Package messaging connects chat channels such as WhatsApp and Twilio to the agent.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/auriance-health/auriance/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted phone number.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Messages channel.
	Stop() error

	// Messages returns a channel of incoming user messages.
	Messages() <-chan models.InboundMessage
}

// canonicalPhone strips every non-digit and checks the result is long enough.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// inbox is the inbound channel shared by the service implementations.
// Emits after close are dropped instead of panicking.
type inbox struct {
	name    string
	mu      sync.RWMutex
	stopped bool
	ch      chan models.InboundMessage
}

func newInbox(name string) *inbox {
	return &inbox{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// emit pushes msg, dropping it when the channel stays full for DefaultChannelTimeout.
func (b *inbox) emit(msg models.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn("messaging: dropping inbound message, service stopped", "service", b.name, "from", msg.From)
		return false
	}
	select {
	case b.ch <- msg:
		slog.Debug("messaging: inbound message forwarded", "service", b.name, "from", msg.From)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: inbound channel blocked, dropping message", "service", b.name, "from", msg.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close marks the inbox stopped and closes the channel once. It reports
// whether this call did the closing.
func (b *inbox) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.stopped = true
	close(b.ch)
	return true
}
