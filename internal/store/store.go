// Package store provides conversation storage backends for Auriance.
//
// It includes an in-memory store with per-user locking and LRU eviction, and
// SQLite and PostgreSQL backends for deployments that keep history across
// restarts. Every backend keeps at most models.MaxHistoryTurns turns per user.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auriance-health/auriance/internal/models"
)

// ErrStoreUnavailable is wrapped by every error a persistent backend returns
// when the underlying database fails.
var ErrStoreUnavailable = errors.New("conversation store unavailable")

// ConversationStore tracks bounded per-user dialogue history.
// Implementations must be safe for concurrent use, and must serialize
// mutations of a single user's conversation.
type ConversationStore interface {
	// GetContext returns the profile and the last models.ContextWindowTurns turns.
	// It never creates a conversation.
	GetContext(ctx context.Context, userID models.UserID) (models.ConversationContext, error)
	// AppendTurns appends turns in order under one critical section, creating
	// the conversation on first use and truncating from the front.
	AppendTurns(ctx context.Context, userID models.UserID, turns ...models.Turn) error
	// GetHistory returns the full stored history, empty if the user is unknown.
	GetHistory(ctx context.Context, userID models.UserID) ([]models.Turn, error)
	// ClearHistory empties the history while keeping the conversation entry.
	ClearHistory(ctx context.Context, userID models.UserID) error
	// SetProfile replaces the user's profile, creating the conversation if needed.
	SetProfile(ctx context.Context, userID models.UserID, profile models.Profile) error
	// SetLastIntent records the classification of the latest user turn.
	SetLastIntent(ctx context.Context, userID models.UserID, intent models.Intent) error
	// EvictIdle removes conversations not updated since before. Returns the count removed.
	EvictIdle(ctx context.Context, before time.Time) (int, error)
	// Len returns the number of conversations held.
	Len(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close() error
}

// AppendTurn appends a single turn. It is the one-turn form of AppendTurns.
func AppendTurn(ctx context.Context, s ConversationStore, userID models.UserID, role models.Role, content string) error {
	return s.AppendTurns(ctx, userID, models.Turn{Role: role, Content: content, CreatedAt: time.Now().UTC()})
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN      string        // database connection string or SQLite path
	MaxUsers int           // in-memory capacity, 0 means unbounded
	Clock    func() time.Time
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithMaxUsers caps the number of conversations the in-memory store keeps.
// The least recently used conversation is evicted when the cap is exceeded.
func WithMaxUsers(n int) Option {
	return func(o *Opts) {
		o.MaxUsers = n
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = now
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// DSN types returned by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// libpqKeywords start the fields of a keyword/value Postgres DSN.
var libpqKeywords = []string{"host=", "hostaddr=", "port=", "dbname=", "user=", "password=", "sslmode="}

// DetectDSNType classifies a connection string. Anything that is neither empty
// nor a Postgres URL or keyword/value string is treated as an SQLite path.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DSNTypePostgres
	}
	for _, field := range strings.Fields(dsn) {
		for _, kw := range libpqKeywords {
			if strings.HasPrefix(field, kw) {
				return DSNTypePostgres
			}
		}
	}
	return DSNTypeSQLite
}

// NewStore builds the backend matching the configured DSN.
func NewStore(opts ...Option) (ConversationStore, error) {
	cfg := applyOpts(opts)
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.NewStore: selecting backend", "type", kind, "max_users", cfg.MaxUsers)
	switch kind {
	case DSNTypePostgres:
		s, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DSNTypeSQLite:
		s, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return NewInMemoryStore(opts...), nil
	}
}

// unavailable wraps a database error so callers can match ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// lastN returns a copy of the last n turns.
func lastN(turns []models.Turn, n int) []models.Turn {
	if n <= 0 || len(turns) == 0 {
		return []models.Turn{}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

func validateTurns(turns []models.Turn) error {
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
