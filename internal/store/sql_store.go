package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/google/uuid"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// rebind rewrites '?' placeholders for the driver.
	rebind func(query string) string
	// lockSuffix is appended to the conversation row read inside AppendTurns.
	lockSuffix string
}

// sqlStore implements ConversationStore on database/sql. SQLiteStore and
// PostgresStore embed it and only differ in how they open the database.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// openDB opens and pings a database, applies configure and runs the migrations.
func openDB(driver, dsn, migrations string, configure func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		slog.Error("store.openDB: open failed", "driver", driver, "error", err)
		return nil, unavailable("open "+driver, err)
	}
	if configure != nil {
		configure(db)
	}
	if err := db.Ping(); err != nil {
		slog.Error("store.openDB: ping failed", "driver", driver, "error", err)
		db.Close()
		return nil, unavailable("ping "+driver, err)
	}
	if _, err := db.Exec(migrations); err != nil {
		slog.Error("store.openDB: migrations failed", "driver", driver, "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run %s migrations: %w", driver, err)
	}
	slog.Debug("store.openDB: database ready", "driver", driver)
	return db, nil
}

func (s *sqlStore) q(query string) string {
	return s.dialect.rebind(query)
}

// GetContext returns the profile and the most recent turns for userID.
func (s *sqlStore) GetContext(ctx context.Context, userID models.UserID) (models.ConversationContext, error) {
	out := models.ConversationContext{History: []models.Turn{}}

	profile, err := s.loadProfile(ctx, s.db, userID)
	if err != nil {
		return out, err
	}
	out.Profile = profile

	history, err := s.recentTurns(ctx, userID, models.ContextWindowTurns)
	if err != nil {
		return out, err
	}
	out.History = history
	return out, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) loadProfile(ctx context.Context, q queryer, userID models.UserID) (models.Profile, error) {
	var profile models.Profile
	var profileJSON string
	err := q.QueryRowContext(ctx, s.q(`SELECT profile_json FROM conversations WHERE user_id = ?`), string(userID)).Scan(&profileJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return profile, nil
	}
	if err != nil {
		slog.Error("sqlStore.loadProfile: query failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return profile, unavailable("load profile", err)
	}
	if profileJSON != "" {
		if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
			// Continue with an empty profile rather than failing the conversation
			slog.Error("sqlStore.loadProfile: JSON unmarshal failed", "backend", s.dialect.name, "error", err, "userID", userID)
			return models.Profile{}, nil
		}
	}
	return profile, nil
}

func (s *sqlStore) recentTurns(ctx context.Context, userID models.UserID, limit int) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT role, content, created_at FROM conversation_turns
		WHERE user_id = ? ORDER BY seq DESC LIMIT ?`), string(userID), limit)
	if err != nil {
		slog.Error("sqlStore.recentTurns: query failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return nil, unavailable("query turns", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var t models.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.CreatedAt); err != nil {
			slog.Error("sqlStore.recentTurns: scan failed", "backend", s.dialect.name, "error", err)
			return nil, unavailable("scan turn", err)
		}
		t.Role = models.Role(role)
		t.CreatedAt = t.CreatedAt.UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("sqlStore.recentTurns: rows iteration failed", "backend", s.dialect.name, "error", err)
		return nil, unavailable("iterate turns", err)
	}

	// Rows came newest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// upsertConversation creates the conversation row if missing and bumps updated_at.
func (s *sqlStore) upsertConversation(ctx context.Context, tx *sql.Tx, userID models.UserID, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO conversations (user_id, profile_json, last_intent, next_seq, updated_at)
		VALUES (?, '{}', '', 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`), string(userID), now)
	return err
}

// AppendTurns appends turns and deletes the ones that fall out of the window,
// all in one transaction.
func (s *sqlStore) AppendTurns(ctx context.Context, userID models.UserID, turns ...models.Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("sqlStore.AppendTurns: begin failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("begin append", err)
	}
	defer tx.Rollback()

	if err := s.upsertConversation(ctx, tx, userID, now); err != nil {
		slog.Error("sqlStore.AppendTurns: upsert conversation failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("upsert conversation", err)
	}

	var nextSeq int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT next_seq FROM conversations WHERE user_id = ?`+s.dialect.lockSuffix), string(userID)).Scan(&nextSeq); err != nil {
		slog.Error("sqlStore.AppendTurns: read sequence failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("read sequence", err)
	}

	insert := s.q(`INSERT INTO conversation_turns (id, user_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	for _, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), string(userID), nextSeq, string(t.Role), t.Content, createdAt.UTC()); err != nil {
			slog.Error("sqlStore.AppendTurns: insert turn failed", "backend", s.dialect.name, "error", err, "userID", userID)
			return unavailable("insert turn", err)
		}
		nextSeq++
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET next_seq = ?, updated_at = ? WHERE user_id = ?`), nextSeq, now, string(userID)); err != nil {
		slog.Error("sqlStore.AppendTurns: update sequence failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("update sequence", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversation_turns WHERE user_id = ? AND seq < ?`), string(userID), nextSeq-models.MaxHistoryTurns); err != nil {
		slog.Error("sqlStore.AppendTurns: truncate failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("truncate history", err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("sqlStore.AppendTurns: commit failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("commit append", err)
	}
	slog.Debug("sqlStore.AppendTurns: appended", "backend", s.dialect.name, "userID", userID, "count", len(turns))
	return nil
}

// GetHistory returns the full stored history.
func (s *sqlStore) GetHistory(ctx context.Context, userID models.UserID) ([]models.Turn, error) {
	return s.recentTurns(ctx, userID, models.MaxHistoryTurns)
}

// ClearHistory deletes the user's turns and keeps the conversation row.
func (s *sqlStore) ClearHistory(ctx context.Context, userID models.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversation_turns WHERE user_id = ?`), string(userID)); err != nil {
		slog.Error("sqlStore.ClearHistory: delete turns failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("clear history", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = ? WHERE user_id = ?`), s.now().UTC(), string(userID)); err != nil {
		slog.Error("sqlStore.ClearHistory: touch conversation failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("clear history", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit clear", err)
	}
	slog.Debug("sqlStore.ClearHistory: cleared", "backend", s.dialect.name, "userID", userID)
	return nil
}

// SetProfile stores the profile as JSON on the conversation row.
func (s *sqlStore) SetProfile(ctx context.Context, userID models.UserID, profile models.Profile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (user_id, profile_json, last_intent, next_seq, updated_at)
		VALUES (?, ?, '', 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET profile_json = excluded.profile_json, updated_at = excluded.updated_at`),
		string(userID), string(profileJSON), now)
	if err != nil {
		slog.Error("sqlStore.SetProfile: upsert failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("set profile", err)
	}
	return nil
}

// SetLastIntent records the intent on the conversation row.
func (s *sqlStore) SetLastIntent(ctx context.Context, userID models.UserID, intent models.Intent) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (user_id, profile_json, last_intent, next_seq, updated_at)
		VALUES (?, '{}', ?, 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_intent = excluded.last_intent`),
		string(userID), string(intent), s.now().UTC())
	if err != nil {
		slog.Error("sqlStore.SetLastIntent: upsert failed", "backend", s.dialect.name, "error", err, "userID", userID)
		return unavailable("set last intent", err)
	}
	return nil
}

// LastIntent returns the recorded intent for userID.
func (s *sqlStore) LastIntent(ctx context.Context, userID models.UserID) (models.Intent, error) {
	var intent string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT last_intent FROM conversations WHERE user_id = ?`), string(userID)).Scan(&intent)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IntentNone, nil
	}
	if err != nil {
		return models.IntentNone, unavailable("last intent", err)
	}
	return models.Intent(intent), nil
}

// EvictIdle deletes conversations last updated before the cutoff.
func (s *sqlStore) EvictIdle(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin evict", err)
	}
	defer tx.Rollback()

	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM conversation_turns WHERE user_id IN
		(SELECT user_id FROM conversations WHERE updated_at < ?)`), cutoff); err != nil {
		slog.Error("sqlStore.EvictIdle: delete turns failed", "backend", s.dialect.name, "error", err)
		return 0, unavailable("evict turns", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE updated_at < ?`), cutoff)
	if err != nil {
		slog.Error("sqlStore.EvictIdle: delete conversations failed", "backend", s.dialect.name, "error", err)
		return 0, unavailable("evict conversations", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit evict", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		slog.Info("sqlStore.EvictIdle: evicted idle conversations", "backend", s.dialect.name, "count", n, "before", cutoff)
	}
	return int(n), nil
}

// Len returns the number of conversation rows.
func (s *sqlStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, unavailable("count conversations", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("sqlStore.Close: closing database connection", "backend", s.dialect.name)
	err := s.db.Close()
	if err != nil {
		slog.Error("sqlStore.Close: failed to close database", "backend", s.dialect.name, "error", err)
	}
	return err
}
