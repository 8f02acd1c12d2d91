package genai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a *completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat      chatService
	model     string
	topP      float64
	debugMode bool
	stateDir  string
}

// NewClient creates an OpenAI client. Retries are disabled: a failed call is
// answered by the caller's fallback instead.
func NewClient(opts ...Option) (*Client, error) {
	cfg := applyOpts(opts)
	slog.Debug("genai.NewClient: creating OpenAI client", "api_key_set", cfg.APIKey != "", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &Client{
		chat:      &completionsAdapter{svc: cli.Chat.Completions},
		model:     model,
		topP:      cfg.TopP,
		debugMode: cfg.Debug,
		stateDir:  cfg.StateDir,
	}, nil
}

// Complete sends the system instruction and prompt as one chat exchange.
func (c *Client) Complete(ctx context.Context, systemInstruction, prompt string, maxTokens int64, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(c.topP),
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if c.debugMode {
		rec := debugRecord{Timestamp: start, Method: "Complete", Provider: ProviderOpenAI, Model: c.model, Params: params, Response: resp}
		if err != nil {
			rec.Error = err.Error()
		}
		writeDebugRecord(c.stateDir, rec)
	}
	if err != nil {
		var apiErr *openai.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		classified := classify(ctx, ProviderOpenAI, status, err)
		slog.Debug("Client.Complete: completion failed", "error", classified, "elapsed", time.Since(start))
		return "", classified
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Provider: ProviderOpenAI, Err: ErrNoChoicesReturned}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ServiceError{Provider: ProviderOpenAI, Err: ErrNoChoicesReturned}
	}
	slog.Debug("Client.Complete: completion succeeded", "model", c.model, "elapsed", time.Since(start), "chars", len(content))
	return content, nil
}
