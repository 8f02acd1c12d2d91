package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conversation bounds shared by every store backend.
const (
	// MaxHistoryTurns is the number of turns retained per user.
	MaxHistoryTurns = 20
	// ContextWindowTurns is the number of recent turns handed to the prompt builder.
	ContextWindowTurns = 5
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks a turn written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the agent.
	RoleAssistant Role = "assistant"
)

// IsValidRole reports whether r is one of the supported roles.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Intent is the classification tag of the most recent user turn.
type Intent string

const (
	IntentNone      Intent = ""
	IntentStress    Intent = "stress"
	IntentSleep     Intent = "sleep"
	IntentNutrition Intent = "nutrition"
	IntentActivity  Intent = "activity"
)

var (
	ErrEmptyUserID  = errors.New("user_id is required")
	ErrEmptyMessage = errors.New("message is required")
	ErrInvalidRole  = errors.New("invalid turn role")
)

// UserID is the opaque key of a conversation. It decodes from either a JSON
// number or a JSON string so clients sending numeric ids keep working.
type UserID string

// String returns the id as a plain string.
func (u UserID) String() string { return string(u) }

// UnmarshalJSON accepts 42 and "42" alike.
func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id must be a string or a number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("user_id must be an integer: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the role of a turn. Content is free-form.
func (t Turn) Validate() error {
	if !IsValidRole(t.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Profile describes a user. The named fields are the ones the prompt builder
// knows about; anything else belongs in Extra.
type Profile struct {
	Name          string            `json:"name,omitempty"`
	AgeRange      string            `json:"age_range,omitempty"`
	Goals         []string          `json:"goals,omitempty"`
	PreferredTone string            `json:"preferred_tone,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// IsEmpty reports whether no profile field is set.
func (p Profile) IsEmpty() bool {
	return p.Name == "" && p.AgeRange == "" && len(p.Goals) == 0 && p.PreferredTone == "" && len(p.Extra) == 0
}

// Clone returns a deep copy so callers can't mutate store-owned maps.
func (p Profile) Clone() Profile {
	out := p
	if p.Goals != nil {
		out.Goals = append([]string(nil), p.Goals...)
	}
	if p.Extra != nil {
		out.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ConversationContext is what the response generator sees of a conversation.
type ConversationContext struct {
	Profile Profile `json:"profile"`
	History []Turn  `json:"history"`
}

// ChatRequest is the payload of POST /agents/chat.
type ChatRequest struct {
	UserID  UserID `json:"user_id"`
	Message string `json:"message"`
}

// Validate validates a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// ReplyType tells which path produced a reply.
type ReplyType string

const (
	ReplyTypeAIGenerated ReplyType = "ai_generated"
	ReplyTypeDemo        ReplyType = "demo"
)

// ChatReply is the result of handling one user message.
type ChatReply struct {
	Answer      string    `json:"answer"`
	Type        ReplyType `json:"type"`
	Urgency     string    `json:"urgency"`
	Suggestions []string  `json:"suggestions"`
}

// ConversationHistoryResponse is the payload of GET /agents/conversation/{id}.
type ConversationHistoryResponse struct {
	UserID              UserID `json:"user_id"`
	ConversationHistory []Turn `json:"conversation_history"`
	TotalMessages       int    `json:"total_messages"`
}

// InboundMessage is a message received on a messaging channel.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
