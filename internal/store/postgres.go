package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the same schema in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			description TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	migrations, err := loadMigrations("migrations/postgres")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.version, m.description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "backend", "postgres", "version", fmt.Sprintf("%04d", m.version), "description", m.description)
	}
	return nil
}

// --- chat_memory ---

func (s *PostgresStore) InsertTurn(ctx context.Context, chatID int64, role, content string, at time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO chat_memory (chat_id, role, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		chatID, role, content, at.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, wrap("insert turn", err)
	}
	return id, nil
}

func (s *PostgresStore) CountTurns(ctx context.Context, chatID int64, role string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM chat_memory WHERE chat_id = $1 AND role = $2",
		chatID, role,
	).Scan(&n)
	if err != nil {
		return 0, wrap("count turns", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteOldestTurns(ctx context.Context, chatID int64, role string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_memory WHERE id IN (
			SELECT id FROM chat_memory
			WHERE chat_id = $1 AND role = $2
			ORDER BY id ASC LIMIT $3
		)`,
		chatID, role, n,
	)
	if err != nil {
		return 0, wrap("delete oldest turns", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, chatID int64) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, chat_id, role, content, created_at FROM chat_memory WHERE chat_id = $1 ORDER BY id ASC",
		chatID,
	)
	if err != nil {
		return nil, wrap("list turns", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, wrap("scan turn", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate turns", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteTurns(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM chat_memory WHERE chat_id = $1", chatID); err != nil {
		return wrap("delete turns", err)
	}
	return nil
}

func (s *PostgresStore) ListMemoryChats(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT chat_id FROM chat_memory ORDER BY chat_id")
	if err != nil {
		return nil, wrap("list memory chats", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrap("list memory chats", err)
	}
	return ids, nil
}

// --- chat_counters ---

func (s *PostgresStore) IncrementCounter(ctx context.Context, chatID int64, initialThreshold int) (Counter, error) {
	c := Counter{ChatID: chatID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_counters (chat_id, message_count, next_trigger) VALUES ($1, 1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET message_count = chat_counters.message_count + 1
		 RETURNING message_count, next_trigger`,
		chatID, initialThreshold,
	).Scan(&c.MessageCount, &c.NextTrigger)
	if err != nil {
		return Counter{}, wrap("increment counter", err)
	}
	return c, nil
}

func (s *PostgresStore) ResetCounter(ctx context.Context, chatID int64, threshold int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_counters (chat_id, message_count, next_trigger) VALUES ($1, 0, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET message_count = 0, next_trigger = EXCLUDED.next_trigger`,
		chatID, threshold,
	)
	if err != nil {
		return wrap("reset counter", err)
	}
	return nil
}

func (s *PostgresStore) GetCounter(ctx context.Context, chatID int64) (Counter, bool, error) {
	c := Counter{ChatID: chatID}
	err := s.pool.QueryRow(ctx,
		"SELECT message_count, next_trigger FROM chat_counters WHERE chat_id = $1", chatID,
	).Scan(&c.MessageCount, &c.NextTrigger)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counter{}, false, nil
	}
	if err != nil {
		return Counter{}, false, wrap("get counter", err)
	}
	return c, true, nil
}

// --- users ---

const pgUserColumns = "user_id, username, full_name, reputation, messages, first_seen, last_seen"

func scanPGUser(r pgx.Row) (UserProfile, error) {
	var u UserProfile
	err := r.Scan(&u.UserID, &u.Username, &u.FullName, &u.Reputation, &u.Messages, &u.FirstSeen, &u.LastSeen)
	return u, err
}

func (s *PostgresStore) UpsertUser(ctx context.Context, userID int64, username, fullName string, at time.Time) (UserProfile, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (user_id, username, full_name, reputation, messages, first_seen, last_seen)
		 VALUES ($1, $2, $3, 0, 0, $4, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			last_seen = EXCLUDED.last_seen
		 RETURNING `+pgUserColumns,
		userID, username, fullName, at.UTC(),
	)
	u, err := scanPGUser(row)
	if err != nil {
		return UserProfile{}, wrap("upsert user", err)
	}
	return u, nil
}

func (s *PostgresStore) IncrementUserMessages(ctx context.Context, userID int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET messages = messages + 1 WHERE user_id = $1", userID)
	if err != nil {
		return wrap("increment messages", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("increment messages", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AdjustReputation(ctx context.Context, userID int64, delta int64) (int64, error) {
	var rep int64
	err := s.pool.QueryRow(ctx,
		"UPDATE users SET reputation = reputation + $1 WHERE user_id = $2 RETURNING reputation",
		delta, userID,
	).Scan(&rep)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrap("adjust reputation", ErrNotFound)
	}
	if err != nil {
		return 0, wrap("adjust reputation", err)
	}
	return rep, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (UserProfile, error) {
	u, err := scanPGUser(s.pool.QueryRow(ctx, "SELECT "+pgUserColumns+" FROM users WHERE user_id = $1", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProfile{}, wrap("get user", ErrNotFound)
	}
	if err != nil {
		return UserProfile{}, wrap("get user", err)
	}
	return u, nil
}

func (s *PostgresStore) TopUsers(ctx context.Context, n int) ([]UserProfile, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryUsers(ctx, "top users",
		"SELECT "+pgUserColumns+" FROM users ORDER BY reputation DESC, messages DESC, user_id ASC LIMIT $1", n)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]UserProfile, error) {
	return s.queryUsers(ctx, "list users", "SELECT "+pgUserColumns+" FROM users ORDER BY user_id ASC")
}

func (s *PostgresStore) queryUsers(ctx context.Context, op, query string, args ...any) ([]UserProfile, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []UserProfile
	for rows.Next() {
		u, err := scanPGUser(rows)
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
