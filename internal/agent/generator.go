package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/auriance-health/auriance/internal/genai"
	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Completion parameters.
const (
	DefaultCompletionTimeout = 10 * time.Second
	DefaultMaxTokens         = 150
	DefaultTemperature       = 0.7
)

const tracerName = "github.com/auriance-health/auriance/internal/agent"

// Reply is a generated answer and how it was produced.
type Reply struct {
	Text string
	Type models.ReplyType
	// Path is one of the metrics.Path* values.
	Path string
	// Intent is the demo route matched, empty on the completion path.
	Intent models.Intent
}

// Generator turns a user message and its context into a safe reply.
type Generator struct {
	completer   genai.Completer
	rules       *Rules
	timeout     time.Duration
	maxTokens   int64
	temperature float64
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCompleter sets the external completion service. Without one every reply
// comes from the demo rules.
func WithCompleter(c genai.Completer) GeneratorOption {
	return func(g *Generator) {
		g.completer = c
	}
}

// WithRules replaces the embedded rule table.
func WithRules(r *Rules) GeneratorOption {
	return func(g *Generator) {
		if r != nil {
			g.rules = r
		}
	}
}

// WithCompletionTimeout bounds each external call.
func WithCompletionTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGeneratorMetrics records reply paths and completion latency.
func WithGeneratorMetrics(m *metrics.Metrics) GeneratorOption {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithTracer sets the tracer used for completion spans.
func WithTracer(t trace.Tracer) GeneratorOption {
	return func(g *Generator) {
		if t != nil {
			g.tracer = t
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		rules:       DefaultRules(),
		timeout:     DefaultCompletionTimeout,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	slog.Debug("agent.NewGenerator: created", "completer_set", g.completer != nil, "timeout", g.timeout)
	return g
}

// Rules returns the rule table in use.
func (g *Generator) Rules() *Rules {
	return g.rules
}

// ReplyType tells which path replies take with this configuration.
func (g *Generator) ReplyType() models.ReplyType {
	if g.completer == nil {
		return models.ReplyTypeDemo
	}
	return models.ReplyTypeAIGenerated
}

// GenerateReply returns the reply text for message. It never fails: errors of
// the completion service are answered with fixed messages.
func (g *Generator) GenerateReply(ctx context.Context, message string, cc models.ConversationContext) string {
	return g.Generate(ctx, message, cc).Text
}

// Generate is GenerateReply with the path that produced the reply.
func (g *Generator) Generate(ctx context.Context, message string, cc models.ConversationContext) Reply {
	var reply Reply
	if g.completer == nil {
		text, intent := g.rules.DemoReply(message)
		reply = Reply{Text: text, Type: models.ReplyTypeDemo, Path: metrics.PathDemo, Intent: intent}
	} else {
		reply = g.complete(ctx, message, cc)
	}

	if reply.Path == metrics.PathDemo || reply.Path == metrics.PathAIGenerated {
		if g.rules.Rejects(reply.Text) {
			slog.Warn("Generator.Generate: candidate reply rejected by denylist", "path", reply.Path, "length", len(reply.Text))
			reply.Text = g.rules.Messages.Redirect
			reply.Path = metrics.PathRejected
		}
	}
	g.metrics.ObserveReply(reply.Path)
	return reply
}

// complete calls the external service under its own timeout. The call is
// detached from ctx cancellation so an abandoned request does not abort it.
func (g *Generator) complete(ctx context.Context, message string, cc models.ConversationContext) Reply {
	reply := Reply{Type: models.ReplyTypeAIGenerated}
	prompt := BuildPrompt(g.rules, message, cc)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	callCtx, span := g.tracer.Start(callCtx, "agent.complete", trace.WithAttributes(
		attribute.Int("auriance.history_turns", len(cc.History)),
		attribute.Int("auriance.prompt_chars", len(prompt)),
	))
	defer span.End()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		text, err := g.completer.Complete(callCtx, g.rules.SystemInstruction, prompt, g.maxTokens, g.temperature)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		// The completer ignored the deadline.
		res = result{err: genai.ErrTimeout}
	}
	g.metrics.ObserveCompletion(time.Since(start))

	err := res.err
	switch {
	case err == nil:
		reply.Text = res.text
		reply.Path = metrics.PathAIGenerated
	case errors.Is(err, genai.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("Generator.complete: completion timed out", "timeout", g.timeout, "elapsed", time.Since(start))
		span.SetStatus(codes.Error, "timeout")
		reply.Text = g.rules.Messages.Timeout
		reply.Path = metrics.PathTimeout
	default:
		slog.Error("Generator.complete: completion failed, using fallback", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		reply.Text = g.rules.Messages.Fallback
		reply.Path = metrics.PathFallback
	}
	span.SetAttributes(attribute.String("auriance.reply_path", reply.Path))
	return reply
}
