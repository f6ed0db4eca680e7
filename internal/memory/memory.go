// Package memory keeps a bounded rolling window of conversation turns per
// chat. Each (chat, role) pair holds at most Limit turns; the bound is
// enforced on every Append by deleting the oldest turns of that role.
package memory

import (
	"context"
	"fmt"
	"time"

	"neurodeep/internal/llm"
	"neurodeep/internal/store"
)

const DefaultLimit = 20

// Backend is the slice of the persistence layer the memory needs.
type Backend interface {
	InsertTurn(ctx context.Context, chatID int64, role, content string, at time.Time) (int64, error)
	CountTurns(ctx context.Context, chatID int64, role string) (int, error)
	DeleteOldestTurns(ctx context.Context, chatID int64, role string, n int) (int, error)
	ListTurns(ctx context.Context, chatID int64) ([]store.Turn, error)
	DeleteTurns(ctx context.Context, chatID int64) error
	ListMemoryChats(ctx context.Context) ([]int64, error)
}

type Store struct {
	backend Backend
	limit   int
	now     func() time.Time
}

func New(backend Backend, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{backend: backend, limit: limit, now: time.Now}
}

func (s *Store) Limit() int { return s.limit }

func validRole(role string) bool {
	return role == llm.RoleUser || role == llm.RoleAssistant
}

// Append stores a turn and trims the (chat, role) queue back to the limit.
// It returns how many old turns were evicted.
func (s *Store) Append(ctx context.Context, chatID int64, role, content string) (int, error) {
	if !validRole(role) {
		return 0, fmt.Errorf("memory: unsupported role %q", role)
	}
	if _, err := s.backend.InsertTurn(ctx, chatID, role, content, s.now()); err != nil {
		return 0, err
	}
	return s.trim(ctx, chatID, role)
}

func (s *Store) trim(ctx context.Context, chatID int64, role string) (int, error) {
	count, err := s.backend.CountTurns(ctx, chatID, role)
	if err != nil {
		return 0, err
	}
	if count <= s.limit {
		return 0, nil
	}
	return s.backend.DeleteOldestTurns(ctx, chatID, role, count-s.limit)
}

// History returns every retained turn of the chat, oldest first, with user
// and assistant turns interleaved in insertion order.
func (s *Store) History(ctx context.Context, chatID int64) ([]llm.Message, error) {
	turns, err := s.backend.ListTurns(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

// Clear forgets the whole chat.
func (s *Store) Clear(ctx context.Context, chatID int64) error {
	return s.backend.DeleteTurns(ctx, chatID)
}

// Stats counts retained turns per role.
func (s *Store) Stats(ctx context.Context, chatID int64) (user, assistant int, err error) {
	if user, err = s.backend.CountTurns(ctx, chatID, llm.RoleUser); err != nil {
		return 0, 0, err
	}
	if assistant, err = s.backend.CountTurns(ctx, chatID, llm.RoleAssistant); err != nil {
		return 0, 0, err
	}
	return user, assistant, nil
}

// Sweep re-applies the bound to every chat. An interrupted Append can leave
// a chat over the limit until its next write; Sweep fixes that eagerly.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	chats, err := s.backend.ListMemoryChats(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, chatID := range chats {
		for _, role := range []string{llm.RoleUser, llm.RoleAssistant} {
			n, err := s.trim(ctx, chatID, role)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}
