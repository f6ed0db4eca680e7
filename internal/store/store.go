// Package store persists chat memory, trigger counters and user profiles.
//
// Two backends implement Store: SQLite (default, single file) and PostgreSQL
// (selected when a database URL is configured). Every method is a single
// independent statement; nothing spans component boundaries.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// Error wraps a persistence failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Turn is one stored message of a chat's rolling memory.
type Turn struct {
	ID        int64
	ChatID    int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// Counter is the per-chat trigger counter row.
type Counter struct {
	ChatID       int64
	MessageCount int
	NextTrigger  int
}

// UserProfile is the per-user ledger row.
type UserProfile struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name"`
	Reputation int64     `json:"reputation"`
	Messages   int64     `json:"messages"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// DisplayName prefers the full name and falls back to @username.
func (u UserProfile) DisplayName() string {
	if s := strings.TrimSpace(u.FullName); s != "" {
		return s
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("user_%d", u.UserID)
}

type Store interface {
	// chat_memory
	InsertTurn(ctx context.Context, chatID int64, role, content string, at time.Time) (int64, error)
	CountTurns(ctx context.Context, chatID int64, role string) (int, error)
	DeleteOldestTurns(ctx context.Context, chatID int64, role string, n int) (int, error)
	ListTurns(ctx context.Context, chatID int64) ([]Turn, error)
	DeleteTurns(ctx context.Context, chatID int64) error
	ListMemoryChats(ctx context.Context) ([]int64, error)

	// chat_counters
	IncrementCounter(ctx context.Context, chatID int64, initialThreshold int) (Counter, error)
	ResetCounter(ctx context.Context, chatID int64, threshold int) error
	GetCounter(ctx context.Context, chatID int64) (Counter, bool, error)

	// users
	UpsertUser(ctx context.Context, userID int64, username, fullName string, at time.Time) (UserProfile, error)
	IncrementUserMessages(ctx context.Context, userID int64) error
	AdjustReputation(ctx context.Context, userID int64, delta int64) (int64, error)
	GetUser(ctx context.Context, userID int64) (UserProfile, error)
	TopUsers(ctx context.Context, n int) ([]UserProfile, error)
	ListUsers(ctx context.Context) ([]UserProfile, error)

	Close() error
}

// Open returns a PostgreSQL store when databaseURL is set, otherwise SQLite.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(sqlitePath)
}
