// Package agent is the conversational core of Auriance: it reads a user's
// recent conversation, generates a safe health reply and records the exchange.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/store"
)

// UrgencyLow is the only urgency level the agent assigns.
const UrgencyLow = "low"

// ErrProcessing is returned when the conversation could not be read or recorded.
var ErrProcessing = errors.New("failed to process message")

// Agent orchestrates the conversation store and the reply generator.
type Agent struct {
	store     store.ConversationStore
	generator *Generator
	capper    Capper
}

// Option configures an Agent.
type Option func(*Agent)

// WithGenerator sets the reply generator.
func WithGenerator(g *Generator) Option {
	return func(a *Agent) {
		a.generator = g
	}
}

// WithCapper sets how user messages are bounded before use.
func WithCapper(c Capper) Option {
	return func(a *Agent) {
		a.capper = c
	}
}

// New creates an Agent over st. Without options it answers from the demo rules
// and caps messages by runes.
func New(st store.ConversationStore, opts ...Option) *Agent {
	a := &Agent{store: st}
	for _, opt := range opts {
		opt(a)
	}
	if a.generator == nil {
		a.generator = NewGenerator()
	}
	if a.capper == nil {
		a.capper = RuneCapper(DefaultMaxMessageRunes)
	}
	return a
}

// Generator returns the reply generator in use.
func (a *Agent) Generator() *Generator {
	return a.generator
}

// ReplyType reports whether replies come from the completion service or the demo rules.
func (a *Agent) ReplyType() models.ReplyType {
	return a.generator.ReplyType()
}

func processing(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProcessing, err)
}

// HandleMessage answers message for userID and records the exchange. It fails
// only when the store does.
func (a *Agent) HandleMessage(ctx context.Context, userID models.UserID, message string) (models.ChatReply, error) {
	req := models.ChatRequest{UserID: userID, Message: message}
	if err := req.Validate(); err != nil {
		return models.ChatReply{}, err
	}
	message = a.capper.Cap(strings.TrimSpace(message))

	cc, err := a.store.GetContext(ctx, userID)
	if err != nil {
		slog.Error("Agent.HandleMessage: failed to read context", "error", err, "userID", userID)
		return models.ChatReply{}, processing("read context", err)
	}

	reply := a.generator.Generate(ctx, message, cc)
	suggestions, intent := a.generator.Rules().Suggestions(message)
	if reply.Intent != models.IntentNone {
		intent = reply.Intent
	}

	now := time.Now().UTC()
	err = a.store.AppendTurns(ctx, userID,
		models.Turn{Role: models.RoleUser, Content: message, CreatedAt: now},
		models.Turn{Role: models.RoleAssistant, Content: reply.Text, CreatedAt: now},
	)
	if err != nil {
		slog.Error("Agent.HandleMessage: failed to record exchange", "error", err, "userID", userID)
		return models.ChatReply{}, processing("record exchange", err)
	}
	if err := a.store.SetLastIntent(ctx, userID, intent); err != nil {
		slog.Warn("Agent.HandleMessage: failed to record intent", "error", err, "userID", userID)
	}

	slog.Debug("Agent.HandleMessage: replied", "userID", userID, "path", reply.Path, "intent", intent)
	return models.ChatReply{
		Answer:      reply.Text,
		Type:        reply.Type,
		Urgency:     UrgencyLow,
		Suggestions: suggestions,
	}, nil
}

// GetHistory returns the stored history of userID, oldest first.
func (a *Agent) GetHistory(ctx context.Context, userID models.UserID) ([]models.Turn, error) {
	history, err := a.store.GetHistory(ctx, userID)
	if err != nil {
		slog.Error("Agent.GetHistory: failed", "error", err, "userID", userID)
		return nil, processing("get history", err)
	}
	return history, nil
}

// ClearHistory empties the history of userID.
func (a *Agent) ClearHistory(ctx context.Context, userID models.UserID) error {
	if err := a.store.ClearHistory(ctx, userID); err != nil {
		slog.Error("Agent.ClearHistory: failed", "error", err, "userID", userID)
		return processing("clear history", err)
	}
	slog.Info("Agent.ClearHistory: cleared", "userID", userID)
	return nil
}

// SetProfile replaces the profile of userID.
func (a *Agent) SetProfile(ctx context.Context, userID models.UserID, profile models.Profile) error {
	if err := a.store.SetProfile(ctx, userID, profile); err != nil {
		return processing("set profile", err)
	}
	return nil
}
