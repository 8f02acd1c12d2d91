// Package genai provides text completion against external language model APIs.
//
// Two backends are available: OpenAI chat completions (Client) and Anthropic
// messages (AnthropicClient). Both satisfy Completer and classify failures as
// ErrTimeout or *ServiceError so callers can pick a recovery path.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider names accepted by NewCompleter.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default model identifiers.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultTopP           = 0.9
)

var (
	// ErrTimeout is returned when the completion did not finish before the deadline.
	ErrTimeout = errors.New("completion timed out")
	// ErrNoChoicesReturned is returned when the service answered without any text.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoAPIKey is returned when a client is built without a credential.
	ErrNoAPIKey = errors.New("API key not set")
)

// ServiceError is any non-timeout failure of the completion service.
type ServiceError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Completer produces one completion for a system instruction and a user prompt.
type Completer interface {
	Complete(ctx context.Context, systemInstruction, prompt string, maxTokens int64, temperature float64) (string, error)
}

// Opts holds configuration for the completion clients.
type Opts struct {
	APIKey   string
	Model    string
	BaseURL  string // overrides the provider endpoint
	TopP     float64
	Debug    bool   // write request/response records under StateDir/debug
	StateDir string // directory for debug records
}

// Option defines a configuration option for the completion clients.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(o *Opts) {
		o.TopP = p
	}
}

// WithDebugMode enables debug records of each call, stored under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.Debug = enabled
		o.StateDir = stateDir
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{TopP: DefaultTopP}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewCompleter builds the completer for provider. An empty provider selects OpenAI.
// It returns ErrNoAPIKey when no credential is given.
func NewCompleter(provider string, opts ...Option) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		return NewClient(opts...)
	case ProviderAnthropic:
		return NewAnthropicClient(opts...)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

// classify maps a transport or API error to ErrTimeout or *ServiceError.
// statusCode is the HTTP status extracted by the backend, 0 if none.
func classify(ctx context.Context, provider string, statusCode int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	return &ServiceError{Provider: provider, StatusCode: statusCode, Err: err}
}

// debugRecord is one line of the debug log written when debug mode is on.
type debugRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Params    any       `json:"params"`
	Response  any       `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeDebugRecord stores rec as a JSON file under stateDir/debug. Failures are
// only logged; debugging must never break a completion.
func writeDebugRecord(stateDir string, rec debugRecord) {
	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai.writeDebugRecord: failed to create debug directory", "error", err, "dir", dir)
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebugRecord: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%d.json", rec.Provider, rec.Method, rec.Timestamp.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("genai.writeDebugRecord: write failed", "error", err)
	}
}
