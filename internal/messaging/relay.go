package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultRelayConcurrency bounds the messages a Relay handles at once.
const DefaultRelayConcurrency = 16

// DefaultUnavailableMessage is sent when a message could not be processed.
const DefaultUnavailableMessage = "Je ne peux pas répondre pour le moment. Merci de réessayer dans quelques instants."

// Responder answers a user message. *agent.Agent satisfies it.
type Responder interface {
	HandleMessage(ctx context.Context, userID models.UserID, message string) (models.ChatReply, error)
}

// Relay feeds the messages of a Service to a Responder and sends the answers back.
type Relay struct {
	service     Service
	responder   Responder
	metrics     *metrics.Metrics
	concurrency int
	unavailable string
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayMetrics counts relayed messages per channel.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithConcurrency sets how many messages are handled in parallel.
func WithConcurrency(n int) RelayOption {
	return func(r *Relay) {
		r.concurrency = n
	}
}

// WithUnavailableMessage overrides the text sent when processing fails.
func WithUnavailableMessage(msg string) RelayOption {
	return func(r *Relay) {
		r.unavailable = msg
	}
}

// NewRelay creates a Relay between service and responder.
func NewRelay(service Service, responder Responder, opts ...RelayOption) *Relay {
	r := &Relay{
		service:     service,
		responder:   responder,
		concurrency: DefaultRelayConcurrency,
		unavailable: DefaultUnavailableMessage,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	return r
}

// Run consumes messages until ctx is cancelled or the service is stopped,
// then waits for in-flight messages.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("Relay.Run: started", "service", r.service.Name(), "concurrency", r.concurrency)
	defer slog.Info("Relay.Run: stopped", "service", r.service.Name())

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for {
		select {
		case msg, ok := <-r.service.Messages():
			if !ok {
				slog.Debug("Relay.Run: messages channel closed", "service", r.service.Name())
				return g.Wait()
			}
			g.Go(func() error {
				if err := r.Handle(ctx, msg); err != nil {
					slog.Error("Relay.Run: failed to relay message", "error", err, "service", r.service.Name(), "from", msg.From)
				}
				return nil
			})
		case <-ctx.Done():
			return g.Wait()
		}
	}
}

// Handle answers a single inbound message. The sender's canonical phone number
// is the conversation key.
func (r *Relay) Handle(ctx context.Context, msg models.InboundMessage) error {
	userID, err := r.service.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	r.metrics.ObserveChat(r.service.Name())

	reply, err := r.responder.HandleMessage(ctx, models.UserID(userID), msg.Body)
	switch {
	case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrEmptyUserID):
		slog.Debug("Relay.Handle: ignoring empty message", "from", userID)
		return nil
	case err != nil:
		if sendErr := r.service.SendMessage(ctx, userID, r.unavailable); sendErr != nil {
			slog.Error("Relay.Handle: failed to send unavailable notice", "error", sendErr, "to", userID)
		}
		return fmt.Errorf("handle message: %w", err)
	}

	if err := r.service.SendMessage(ctx, userID, reply.Answer); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	slog.Debug("Relay.Handle: replied", "service", r.service.Name(), "to", userID, "type", reply.Type)
	return nil
}
