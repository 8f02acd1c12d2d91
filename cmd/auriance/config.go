package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/api"
	"github.com/auriance-health/auriance/internal/genai"
	"github.com/auriance-health/auriance/internal/scheduler"
	"github.com/auriance-health/auriance/internal/store"
	"github.com/auriance-health/auriance/internal/util"
	"github.com/auriance-health/auriance/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Auriance state data
	DefaultStateDir = "/var/lib/auriance"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultMaxUsers caps in-memory conversations
	DefaultMaxUsers = 10000
	// DefaultIdleTTL is how long an untouched conversation is kept
	DefaultIdleTTL = 24 * time.Hour
)

// Messaging channels selectable with --channel.
const (
	ChannelNone     = "none"
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
)

// Config holds the resolved configuration. Environment variables provide the
// defaults and command line flags override them.
type Config struct {
	StateDir          string
	DatabaseDSN       string
	WhatsAppDSN       string
	Provider          string
	Model             string
	OpenAIKey         string
	AnthropicKey      string
	CompletionTimeout time.Duration
	RecordCompletions bool
	APIAddr           string
	AllowAnyOrigin    bool
	MaxUsers          int
	IdleTTL           time.Duration
	SweepSchedule     string
	MaxMessageTokens  int
	RulesFile         string
	Channel           string
	QROutput          string
	NumericCode       bool
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	TwilioWebhookURL  string
	OTLPEndpoint      string
	Debug             bool
}

// initializeLogger sets up structured logging on stderr, so the chat REPL owns stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          util.GetEnv("AURIANCE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:       util.GetEnv("DATABASE_URL", ""),
		WhatsAppDSN:       util.GetEnv("WHATSAPP_DB_DSN", ""),
		Provider:          util.GetEnv("AURIANCE_PROVIDER", genai.ProviderOpenAI),
		Model:             util.GetEnv("AURIANCE_MODEL", ""),
		OpenAIKey:         util.GetEnv("OPENAI_API_KEY", ""),
		AnthropicKey:      util.GetEnv("ANTHROPIC_API_KEY", ""),
		CompletionTimeout: util.ParseDurationEnv("AURIANCE_COMPLETION_TIMEOUT", agent.DefaultCompletionTimeout),
		RecordCompletions: util.ParseBoolEnv("AURIANCE_RECORD_COMPLETIONS", false),
		APIAddr:           util.GetEnv("API_ADDR", api.DefaultAddr),
		AllowAnyOrigin:    util.ParseBoolEnv("AURIANCE_WS_ALLOW_ANY_ORIGIN", false),
		MaxUsers:          util.ParseIntEnv("AURIANCE_MAX_USERS", DefaultMaxUsers),
		IdleTTL:           util.ParseDurationEnv("AURIANCE_IDLE_TTL", DefaultIdleTTL),
		SweepSchedule:     util.GetEnv("AURIANCE_SWEEP_SCHEDULE", scheduler.DefaultSweepSchedule),
		MaxMessageTokens:  util.ParseIntEnv("AURIANCE_MAX_MESSAGE_TOKENS", agent.DefaultMaxMessageTokens),
		RulesFile:         util.GetEnv("AURIANCE_RULES_FILE", ""),
		Channel:           util.GetEnv("AURIANCE_CHANNEL", ChannelNone),
		TwilioAccountSID:  util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:  util.GetEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookURL:  util.GetEnv("TWILIO_WEBHOOK_URL", ""),
		OTLPEndpoint:      util.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Debug:             util.ParseBoolEnv("AURIANCE_DEBUG", false),
	}

	slog.Debug("environment variables loaded",
		"AURIANCE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"AURIANCE_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ANTHROPIC_API_KEY_SET", config.AnthropicKey != "",
		"API_ADDR", config.APIAddr,
		"AURIANCE_CHANNEL", config.Channel,
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"OTEL_EXPORTER_OTLP_ENDPOINT_SET", config.OTLPEndpoint != "")

	return config
}

// bindFlags registers the persistent flags of cmd with cfg values as defaults.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for Auriance data (overrides $AURIANCE_STATE_DIR)")
	f.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "conversation store DSN: Postgres URL or SQLite path, in-memory when empty (overrides $DATABASE_URL)")
	f.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&cfg.Provider, "provider", cfg.Provider, "completion provider: openai or anthropic (overrides $AURIANCE_PROVIDER)")
	f.StringVar(&cfg.Model, "model", cfg.Model, "completion model (overrides $AURIANCE_MODEL)")
	f.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	f.StringVar(&cfg.AnthropicKey, "anthropic-api-key", cfg.AnthropicKey, "Anthropic API key (overrides $ANTHROPIC_API_KEY)")
	f.DurationVar(&cfg.CompletionTimeout, "completion-timeout", cfg.CompletionTimeout, "bound on one completion call (overrides $AURIANCE_COMPLETION_TIMEOUT)")
	f.BoolVar(&cfg.RecordCompletions, "record-completions", cfg.RecordCompletions, "write completion requests and responses under <state-dir>/debug (overrides $AURIANCE_RECORD_COMPLETIONS)")
	f.IntVar(&cfg.MaxUsers, "max-users", cfg.MaxUsers, "in-memory conversation capacity, 0 for unbounded (overrides $AURIANCE_MAX_USERS)")
	f.IntVar(&cfg.MaxMessageTokens, "max-message-tokens", cfg.MaxMessageTokens, "user messages are truncated to this many tokens (overrides $AURIANCE_MAX_MESSAGE_TOKENS)")
	f.StringVar(&cfg.RulesFile, "rules-file", cfg.RulesFile, "YAML rule table replacing the built-in one (overrides $AURIANCE_RULES_FILE)")
	f.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP traces endpoint, tracing disabled when empty (overrides $OTEL_EXPORTER_OTLP_ENDPOINT)")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging (overrides $AURIANCE_DEBUG)")
}

// bindServeFlags registers the flags only the serve command uses.
func bindServeFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	f.BoolVar(&cfg.AllowAnyOrigin, "allow-any-origin", cfg.AllowAnyOrigin, "accept websocket upgrades from any origin (overrides $AURIANCE_WS_ALLOW_ANY_ORIGIN)")
	f.DurationVar(&cfg.IdleTTL, "idle-ttl", cfg.IdleTTL, "evict conversations idle this long, 0 disables (overrides $AURIANCE_IDLE_TTL)")
	f.StringVar(&cfg.SweepSchedule, "sweep-schedule", cfg.SweepSchedule, "cron schedule of the idle sweep (overrides $AURIANCE_SWEEP_SCHEDULE)")
	f.StringVar(&cfg.Channel, "channel", cfg.Channel, "messaging channel: none, whatsapp or twilio (overrides $AURIANCE_CHANNEL)")
	f.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the WhatsApp login QR code")
	f.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the WhatsApp login code instead of a QR code")
	f.StringVar(&cfg.TwilioWebhookURL, "twilio-webhook-url", cfg.TwilioWebhookURL, "public URL Twilio posts to, used for signature checks (overrides $TWILIO_WEBHOOK_URL)")
}

// finalize fills derived defaults and validates the configuration.
func (c *Config) finalize() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Channel = strings.ToLower(strings.TrimSpace(c.Channel))
	if c.Channel == "" {
		c.Channel = ChannelNone
	}
	switch c.Channel {
	case ChannelNone, ChannelWhatsApp, ChannelTwilio:
	default:
		return fmt.Errorf("unknown channel %q (want none, whatsapp or twilio)", c.Channel)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.MaxMessageTokens <= 0 {
		c.MaxMessageTokens = agent.DefaultMaxMessageTokens
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = agent.DefaultCompletionTimeout
	}
	return nil
}

// usesStateDir reports whether any component writes files under StateDir.
func (c *Config) usesStateDir() bool {
	if store.DetectDSNType(c.DatabaseDSN) == store.DSNTypeSQLite {
		return true
	}
	if c.Channel == ChannelWhatsApp && store.DetectDSNType(c.WhatsAppDSN) == store.DSNTypeSQLite {
		return true
	}
	return c.RecordCompletions
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg Config) []store.Option {
	storeOpts := []store.Option{store.WithMaxUsers(cfg.MaxUsers)}
	switch store.DetectDSNType(cfg.DatabaseDSN) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(cfg.DatabaseDSN))
	case store.DSNTypeSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DatabaseDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(cfg.DatabaseDSN))
	default:
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs completion client options for the configured provider
func buildGenAIOptions(cfg Config) []genai.Option {
	key := cfg.OpenAIKey
	if cfg.Provider == genai.ProviderAnthropic {
		key = cfg.AnthropicKey
	}
	var genaiOpts []genai.Option
	if key != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(key))
	}
	if cfg.Model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.Model))
	}
	if cfg.RecordCompletions {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, cfg.StateDir))
	}
	return genaiOpts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
	if cfg.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}
