package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps conversations in an SQLite file.
type SQLiteStore struct {
	sqlStore
}

var sqliteDialect = dialect{
	name:   "sqlite",
	rebind: func(query string) string { return query },
}

// NewSQLiteStore opens the database at the DSN, a file path or a "file:" URI,
// creating its directory when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqlitePath(cfg.DSN))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// One connection serializes writers, so each user's append-then-truncate runs alone.
	db, err := openDB("sqlite3", cfg.DSN, sqliteMigrations, func(db *sql.DB) { db.SetMaxOpenConns(1) })
	if err != nil {
		return nil, err
	}
	slog.Debug("NewSQLiteStore: opened", "dir", dir)
	return &SQLiteStore{sqlStore{db: db, dialect: sqliteDialect, now: cfg.Clock}}, nil
}

// sqlitePath strips the "file:" scheme and query parameters from dsn.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
