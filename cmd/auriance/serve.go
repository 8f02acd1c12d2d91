package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/api"
	"github.com/auriance-health/auriance/internal/genai"
	"github.com/auriance-health/auriance/internal/lockfile"
	"github.com/auriance-health/auriance/internal/messaging"
	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/scheduler"
	"github.com/auriance-health/auriance/internal/store"
	"github.com/auriance-health/auriance/internal/telemetry"
	"github.com/auriance-health/auriance/internal/twiliowhatsapp"
	"github.com/auriance-health/auriance/internal/whatsapp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	metricsNamespace  = "auriance"
	tracerName        = "github.com/auriance-health/auriance/internal/agent"
	telemetryShutdown = 5 * time.Second
)

// runtime holds the components shared by the serve and chat commands.
type runtime struct {
	agent     *agent.Agent
	store     store.ConversationStore
	metrics   *metrics.Metrics
	telemetry *telemetry.Provider
	lock      *lockfile.Lock
}

// bootstrap builds the agent and everything under it. Close releases what it opened.
func bootstrap(ctx context.Context, cfg Config) (*runtime, error) {
	rt := &runtime{}
	if err := rt.open(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open(ctx context.Context, cfg Config) error {
	if cfg.usesStateDir() {
		if err := ensureDirectoriesExist(cfg); err != nil {
			return err
		}
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("state directory in use: %w", err)
		}
		rt.lock = lock
	}

	var err error
	rt.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		return err
	}
	rt.metrics = metrics.NewMetrics(metricsNamespace, nil)

	rt.store, err = store.NewStore(buildStoreOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	rt.agent, err = buildAgent(cfg, rt.store, rt.metrics, rt.telemetry.Tracer(tracerName))
	return err
}

// Close releases the store, flushes spans and drops the state lock.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Error("runtime.Close: failed to close store", "error", err)
		}
	}
	if rt.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			slog.Error("runtime.Close: failed to flush traces", "error", err)
		}
		cancel()
	}
	if rt.lock != nil {
		if err := rt.lock.Release(); err != nil {
			slog.Error("runtime.Close: failed to release lock", "error", err)
		}
	}
}

// ensureDirectoriesExist creates the state directory.
func ensureDirectoriesExist(cfg Config) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
	}
	return nil
}

// newCompleter returns the completion backend, or nil when no API key is
// configured and the agent should answer from its demo rules.
func newCompleter(cfg Config) (genai.Completer, error) {
	completer, err := genai.NewCompleter(cfg.Provider, buildGenAIOptions(cfg)...)
	if errors.Is(err, genai.ErrNoAPIKey) {
		slog.Warn("No completion API key configured, answering in demo mode", "provider", cfg.Provider)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	return completer, nil
}

// buildAgent wires the generator and message capper from cfg.
func buildAgent(cfg Config, st store.ConversationStore, m *metrics.Metrics, tracer trace.Tracer) (*agent.Agent, error) {
	rules, err := agent.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	completer, err := newCompleter(cfg)
	if err != nil {
		return nil, err
	}

	genOpts := []agent.GeneratorOption{
		agent.WithRules(rules),
		agent.WithCompletionTimeout(cfg.CompletionTimeout),
		agent.WithGeneratorMetrics(m),
		agent.WithTracer(tracer),
	}
	if completer != nil {
		genOpts = append(genOpts, agent.WithCompleter(completer))
	}
	a := agent.New(st,
		agent.WithGenerator(agent.NewGenerator(genOpts...)),
		agent.WithCapper(agent.NewTokenCapper(cfg.MaxMessageTokens)),
	)
	slog.Info("Agent ready", "mode", a.ReplyType(), "provider", cfg.Provider, "rules_file", cfg.RulesFile)
	return a, nil
}

// newMessagingService opens the configured channel. It returns nil for ChannelNone.
// For Twilio the webhook handler is returned for mounting on the API.
func newMessagingService(ctx context.Context, cfg Config) (messaging.Service, []api.Option, error) {
	switch cfg.Channel {
	case ChannelWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.TwilioAuthToken != "" {
			opts = append(opts, messaging.WithSignatureValidation(twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken), cfg.TwilioWebhookURL))
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, nil
	default:
		return nil, nil, nil
	}
}

// runServe runs the API server, the idle sweep and the messaging relay until ctx ends.
func runServe(ctx context.Context, cfg Config) error {
	slog.Info("Bootstrapping Auriance", "channel", cfg.Channel, "api_addr", cfg.APIAddr)
	slog.Debug("Final configuration", "state_dir", cfg.StateDir, "dsn_set", cfg.DatabaseDSN != "", "max_users", cfg.MaxUsers, "idle_ttl", cfg.IdleTTL)

	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweep := scheduler.NewIdleSweep(rt.store, cfg.IdleTTL, rt.metrics, nil)
	if err := sweep.Schedule(ctx, sched, cfg.SweepSchedule); err != nil {
		return err
	}

	svc, apiOpts, err := newMessagingService(ctx, cfg)
	if err != nil {
		return err
	}
	apiOpts = append(apiOpts, api.WithMetrics(rt.metrics))
	if cfg.AllowAnyOrigin {
		apiOpts = append(apiOpts, api.WithAllowAnyOrigin())
	}
	server := api.NewServer(rt.agent, apiOpts...)

	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s service: %w", svc.Name(), err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.APIAddr)
	})
	if svc != nil {
		relay := messaging.NewRelay(svc, rt.agent, messaging.WithRelayMetrics(rt.metrics))
		g.Go(func() error {
			return relay.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return svc.Stop()
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Auriance exited successfully")
	return nil
}
