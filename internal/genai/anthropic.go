package genai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// messageService defines minimal interface for the Anthropic messages API.
type messageService interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type messagesAdapter struct {
	svc anthropic.MessageService
}

func (a *messagesAdapter) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return a.svc.New(ctx, params)
}

// AnthropicClient wraps the Anthropic messages service.
type AnthropicClient struct {
	messages  messageService
	model     anthropic.Model
	topP      float64
	debugMode bool
	stateDir  string
}

// NewAnthropicClient creates an Anthropic client with retries disabled.
func NewAnthropicClient(opts ...Option) (*AnthropicClient, error) {
	cfg := applyOpts(opts)
	slog.Debug("genai.NewAnthropicClient: creating Anthropic client", "api_key_set", cfg.APIKey != "", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	reqOpts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey), anthropicoption.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	cli := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{
		messages:  &messagesAdapter{svc: cli.Messages},
		model:     anthropic.Model(model),
		topP:      cfg.TopP,
		debugMode: cfg.Debug,
		stateDir:  cfg.StateDir,
	}, nil
}

// Complete sends the prompt as a single user message under the system instruction.
func (c *AnthropicClient) Complete(ctx context.Context, systemInstruction, prompt string, maxTokens int64, temperature float64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(temperature),
		TopP:        anthropic.Float(c.topP),
	}

	start := time.Now()
	resp, err := c.messages.New(ctx, params)
	if c.debugMode {
		rec := debugRecord{Timestamp: start, Method: "Complete", Provider: ProviderAnthropic, Model: string(c.model), Params: params, Response: resp}
		if err != nil {
			rec.Error = err.Error()
		}
		writeDebugRecord(c.stateDir, rec)
	}
	if err != nil {
		var apiErr *anthropic.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		classified := classify(ctx, ProviderAnthropic, status, err)
		slog.Debug("AnthropicClient.Complete: completion failed", "error", classified, "elapsed", time.Since(start))
		return "", classified
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", &ServiceError{Provider: ProviderAnthropic, Err: ErrNoChoicesReturned}
	}
	slog.Debug("AnthropicClient.Complete: completion succeeded", "model", c.model, "elapsed", time.Since(start), "chars", len(content))
	return content, nil
}
