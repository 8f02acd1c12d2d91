package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Connection pool settings for PostgresStore.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps conversations in PostgreSQL. Appends for one user are
// serialized by a row lock on the conversation.
type PostgresStore struct {
	sqlStore
}

var postgresDialect = dialect{
	name:       "postgres",
	rebind:     rebindDollar,
	lockSuffix: " FOR UPDATE",
}

// rebindDollar rewrites '?' placeholders to $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NewPostgresStore connects to the DSN and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	db, err := openDB("postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore{db: db, dialect: postgresDialect, now: cfg.Clock}}, nil
}
