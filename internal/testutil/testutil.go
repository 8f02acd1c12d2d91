// Package testutil provides common test utilities and helpers for Auriance tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/store"
)

// TB is the subset of testing.TB the helpers use, so they can be tested themselves.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// NewTestAgent creates an agent over a fresh in-memory store.
func NewTestAgent(opts ...agent.Option) (*agent.Agent, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return agent.New(st, opts...), st
}

// StubCompleter is a genai.Completer returning a fixed reply after Delay.
type StubCompleter struct {
	Reply string
	Err   error
	Delay time.Duration

	calls atomic.Int64
}

// Complete returns Reply or Err, honouring ctx during Delay.
func (c *StubCompleter) Complete(ctx context.Context, systemInstruction, prompt string, maxTokens int64, temperature float64) (string, error) {
	c.calls.Add(1)
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.Err != nil {
		return "", c.Err
	}
	return c.Reply, nil
}

// Calls returns how many times Complete ran.
func (c *StubCompleter) Calls() int {
	return int(c.calls.Load())
}

// FailingStore is a ConversationStore whose every operation fails with
// store.ErrStoreUnavailable.
type FailingStore struct{}

func (FailingStore) err(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrStoreUnavailable)
}

func (s FailingStore) GetContext(context.Context, models.UserID) (models.ConversationContext, error) {
	return models.ConversationContext{}, s.err("get context")
}

func (s FailingStore) AppendTurns(context.Context, models.UserID, ...models.Turn) error {
	return s.err("append turns")
}

func (s FailingStore) GetHistory(context.Context, models.UserID) ([]models.Turn, error) {
	return nil, s.err("get history")
}

func (s FailingStore) ClearHistory(context.Context, models.UserID) error {
	return s.err("clear history")
}

func (s FailingStore) SetProfile(context.Context, models.UserID, models.Profile) error {
	return s.err("set profile")
}

func (s FailingStore) SetLastIntent(context.Context, models.UserID, models.Intent) error {
	return s.err("set last intent")
}

func (s FailingStore) EvictIdle(context.Context, time.Time) (int, error) {
	return 0, s.err("evict idle")
}

func (s FailingStore) Len(context.Context) (int, error) {
	return 0, s.err("len")
}

func (FailingStore) Close() error { return nil }

// SeedConversation appends n user/assistant pairs for userID.
func SeedConversation(t TB, st store.ConversationStore, userID models.UserID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := st.AppendTurns(context.Background(), userID,
			models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("message %d", i)},
			models.Turn{Role: models.RoleAssistant, Content: fmt.Sprintf("reply %d", i)},
		)
		if err != nil {
			t.Fatalf("failed to seed conversation: %v", err)
		}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the envelope and validates its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return response
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// DecodeResult re-decodes the result of an envelope into target.
func DecodeResult(t TB, response models.APIResponse, target interface{}) {
	t.Helper()
	MustUnmarshalJSON(t, MustMarshalJSON(t, response.Result), target)
}

// CreateJSONRequest creates an HTTP request with body marshaled as JSON.
// A nil body sends no content.
func CreateJSONRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		reqBody.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
