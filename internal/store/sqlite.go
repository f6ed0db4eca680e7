package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps everything in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file and runs migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; database/sql queues callers on the single conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	migrations, err := loadMigrations("migrations/sqlite")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		slog.Info("applied migration", "backend", "sqlite", "version", fmt.Sprintf("%04d", m.version), "description", m.description)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- chat_memory ---

func (s *SQLiteStore) InsertTurn(ctx context.Context, chatID int64, role, content string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_memory (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		chatID, role, content, formatTime(at),
	)
	if err != nil {
		return 0, wrap("insert turn", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("insert turn id", err)
	}
	return id, nil
}

func (s *SQLiteStore) CountTurns(ctx context.Context, chatID int64, role string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_memory WHERE chat_id = ? AND role = ?",
		chatID, role,
	).Scan(&n)
	if err != nil {
		return 0, wrap("count turns", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteOldestTurns(ctx context.Context, chatID int64, role string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_memory WHERE id IN (
			SELECT id FROM chat_memory
			WHERE chat_id = ? AND role = ?
			ORDER BY id ASC LIMIT ?
		)`,
		chatID, role, n,
	)
	if err != nil {
		return 0, wrap("delete oldest turns", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete oldest turns", err)
	}
	return int(affected), nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, chatID int64) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM chat_memory WHERE chat_id = ? ORDER BY id ASC",
		chatID,
	)
	if err != nil {
		return nil, wrap("list turns", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Role, &t.Content, &created); err != nil {
			return nil, wrap("scan turn", err)
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate turns", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteTurns(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_memory WHERE chat_id = ?", chatID); err != nil {
		return wrap("delete turns", err)
	}
	return nil
}

func (s *SQLiteStore) ListMemoryChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT chat_id FROM chat_memory ORDER BY chat_id")
	if err != nil {
		return nil, wrap("list memory chats", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan chat id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate chat ids", err)
	}
	return out, nil
}

// --- chat_counters ---

func (s *SQLiteStore) IncrementCounter(ctx context.Context, chatID int64, initialThreshold int) (Counter, error) {
	c := Counter{ChatID: chatID}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_counters (chat_id, message_count, next_trigger) VALUES (?, 1, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET message_count = chat_counters.message_count + 1
		 RETURNING message_count, next_trigger`,
		chatID, initialThreshold,
	).Scan(&c.MessageCount, &c.NextTrigger)
	if err != nil {
		return Counter{}, wrap("increment counter", err)
	}
	return c, nil
}

func (s *SQLiteStore) ResetCounter(ctx context.Context, chatID int64, threshold int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_counters (chat_id, message_count, next_trigger) VALUES (?, 0, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET message_count = 0, next_trigger = excluded.next_trigger`,
		chatID, threshold,
	)
	if err != nil {
		return wrap("reset counter", err)
	}
	return nil
}

func (s *SQLiteStore) GetCounter(ctx context.Context, chatID int64) (Counter, bool, error) {
	c := Counter{ChatID: chatID}
	err := s.db.QueryRowContext(ctx,
		"SELECT message_count, next_trigger FROM chat_counters WHERE chat_id = ?", chatID,
	).Scan(&c.MessageCount, &c.NextTrigger)
	if errors.Is(err, sql.ErrNoRows) {
		return Counter{}, false, nil
	}
	if err != nil {
		return Counter{}, false, wrap("get counter", err)
	}
	return c, true, nil
}

// --- users ---

const sqliteUserColumns = "user_id, username, full_name, reputation, messages, first_seen, last_seen"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(r rowScanner) (UserProfile, error) {
	var u UserProfile
	var first, last string
	if err := r.Scan(&u.UserID, &u.Username, &u.FullName, &u.Reputation, &u.Messages, &first, &last); err != nil {
		return UserProfile{}, err
	}
	u.FirstSeen = parseTime(first)
	u.LastSeen = parseTime(last)
	return u, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, userID int64, username, fullName string, at time.Time) (UserProfile, error) {
	now := formatTime(at)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (user_id, username, full_name, reputation, messages, first_seen, last_seen)
		 VALUES (?, ?, ?, 0, 0, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			last_seen = excluded.last_seen
		 RETURNING `+sqliteUserColumns,
		userID, username, fullName, now, now,
	)
	u, err := scanSQLiteUser(row)
	if err != nil {
		return UserProfile{}, wrap("upsert user", err)
	}
	return u, nil
}

func (s *SQLiteStore) IncrementUserMessages(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET messages = messages + 1 WHERE user_id = ?", userID)
	if err != nil {
		return wrap("increment messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("increment messages", err)
	}
	if n == 0 {
		return wrap("increment messages", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AdjustReputation(ctx context.Context, userID int64, delta int64) (int64, error) {
	var rep int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE users SET reputation = reputation + ? WHERE user_id = ? RETURNING reputation",
		delta, userID,
	).Scan(&rep)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wrap("adjust reputation", ErrNotFound)
	}
	if err != nil {
		return 0, wrap("adjust reputation", err)
	}
	return rep, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (UserProfile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteUserColumns+" FROM users WHERE user_id = ?", userID)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, wrap("get user", ErrNotFound)
	}
	if err != nil {
		return UserProfile{}, wrap("get user", err)
	}
	return u, nil
}

func (s *SQLiteStore) TopUsers(ctx context.Context, n int) ([]UserProfile, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryUsers(ctx, "top users",
		"SELECT "+sqliteUserColumns+" FROM users ORDER BY reputation DESC, messages DESC, user_id ASC LIMIT ?", n)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]UserProfile, error) {
	return s.queryUsers(ctx, "list users", "SELECT "+sqliteUserColumns+" FROM users ORDER BY user_id ASC")
}

func (s *SQLiteStore) queryUsers(ctx context.Context, op, query string, args ...any) ([]UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []UserProfile
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}
