// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in Auriance.
//
// It provides methods for sending messages and turning WhatsApp events into
// inbound chat messages.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath is the whatsmeow device store used without a DSN.
	DefaultSQLitePath = "/var/lib/auriance/whatsmeow.db"
	// JIDSuffix is the server part of a regular user's JID.
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender sends text messages. Client and MockClient implement it.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures the device store and the pairing output.
type Opts struct {
	DBDSN       string // whatsmeow device store, Postgres URL or SQLite DSN
	QRPath      string // write the pairing QR code here instead of stdout
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client is a connected whatsmeow session.
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor picks the database/sql driver for the whatsmeow device store.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return "postgres"
	}
	return "sqlite3"
}

// hasForeignKeys reports whether an SQLite DSN enables foreign keys.
func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store and connects. A device that was never
// paired first goes through the login flow, which prints a QR code (or the
// pairing code) to QRPath or stdout.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}
	slog.Debug("whatsapp.NewClient: options set", "driver", driverFor(cfg.DBDSN), "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	device, err := openDevice(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	waClient := whatsmeow.NewClient(device, slogLogger{module: "client"})

	if waClient.Store.ID == nil {
		err = login(ctx, waClient, cfg)
	} else {
		err = waClient.Connect()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp: %w", err)
	}
	slog.Info("whatsapp.NewClient: connected", "jid", waClient.Store.ID)
	return &Client{waClient: waClient}, nil
}

// openDevice returns the first device of the whatsmeow store at dsn, creating
// the schema when needed.
func openDevice(ctx context.Context, dsn string) (*waStore.Device, error) {
	driver := driverFor(dsn)
	if driver == "sqlite3" && !hasForeignKeys(dsn) {
		slog.Warn("whatsapp.openDevice: SQLite foreign keys look disabled, add '?_foreign_keys=on' to the DSN")
	}
	container, err := sqlstore.New(ctx, driver, dsn, slogLogger{module: "database"})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	return device, nil
}

// login pairs a new device. It returns once the QR channel closes, which
// happens on success, timeout or ctx cancellation.
func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.login: pairing required")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := waClient.Connect(); err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		out = f
	}
	for evt := range qrChan {
		switch {
		case evt.Event != "code":
			slog.Info("whatsapp.login: pairing event", "event", evt.Event)
		case cfg.NumericCode:
			fmt.Fprintln(out, evt.Code)
		default:
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		}
	}
	if waClient.Store.ID == nil {
		return fmt.Errorf("pairing did not complete")
	}
	return nil
}

// slogLogger forwards whatsmeow logs to slog. Debug output is dropped unless
// the default logger is at debug level.
type slogLogger struct {
	module string
}

func (l slogLogger) log(level slog.Level, msg string, args []interface{}) {
	ctx := context.Background()
	if !slog.Default().Enabled(ctx, level) {
		return
	}
	slog.Log(ctx, level, fmt.Sprintf(msg, args...), "component", "whatsmeow", "module", l.module)
}

func (l slogLogger) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }
func (l slogLogger) Infof(msg string, args ...interface{}) { l.log(slog.LevelInfo, msg, args) }
func (l slogLogger) Warnf(msg string, args ...interface{}) { l.log(slog.LevelWarn, msg, args) }
func (l slogLogger) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{module: l.module + "/" + module}
}

// SendMessage sends body as a plain text message to the phone number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" || body == "" {
		return fmt.Errorf("recipient and body are required")
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// OnMessage registers fn for every inbound text message from another user.
func (c *Client) OnMessage(fn func(models.InboundMessage)) {
	c.waClient.AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		if in, ok := InboundFromEvent(msg); ok {
			fn(in)
		}
	})
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// InboundFromEvent extracts a direct text message. Group chats, our own
// messages and non-text payloads are skipped.
func InboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		return models.InboundMessage{}, false
	}
	if strings.TrimSpace(text) == "" {
		return models.InboundMessage{}, false
	}

	from := evt.Info.Sender.User
	if !strings.HasPrefix(from, "+") {
		from = "+" + from
	}
	return models.InboundMessage{From: from, Body: text, Time: evt.Info.Timestamp.Unix()}, true
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sent messages instead of talking to WhatsApp (for tests).
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
