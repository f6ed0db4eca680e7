// Package reputation is the per-user ledger of message counts and
// reputation scores.
package reputation

import (
	"context"
	"time"

	"neurodeep/internal/store"
)

type Backend interface {
	UpsertUser(ctx context.Context, userID int64, username, fullName string, at time.Time) (store.UserProfile, error)
	IncrementUserMessages(ctx context.Context, userID int64) error
	AdjustReputation(ctx context.Context, userID int64, delta int64) (int64, error)
	GetUser(ctx context.Context, userID int64) (store.UserProfile, error)
	TopUsers(ctx context.Context, n int) ([]store.UserProfile, error)
	ListUsers(ctx context.Context) ([]store.UserProfile, error)
}

type Ledger struct {
	backend Backend
	now     func() time.Time
}

func New(backend Backend) *Ledger {
	return &Ledger{backend: backend, now: time.Now}
}

// Upsert records activity from a user, creating the profile on first sight.
func (l *Ledger) Upsert(ctx context.Context, userID int64, username, fullName string) (store.UserProfile, error) {
	return l.backend.UpsertUser(ctx, userID, username, fullName, l.now())
}

// IncrementMessages fails with store.ErrNotFound for users never upserted.
func (l *Ledger) IncrementMessages(ctx context.Context, userID int64) error {
	return l.backend.IncrementUserMessages(ctx, userID)
}

func (l *Ledger) Adjust(ctx context.Context, userID int64, delta int64) (int64, error) {
	return l.backend.AdjustReputation(ctx, userID, delta)
}

func (l *Ledger) Get(ctx context.Context, userID int64) (store.UserProfile, error) {
	return l.backend.GetUser(ctx, userID)
}

// Top orders by reputation, then message count, then user id.
func (l *Ledger) Top(ctx context.Context, n int) ([]store.UserProfile, error) {
	return l.backend.TopUsers(ctx, n)
}

// Known lists every profile the ledger has seen.
func (l *Ledger) Known(ctx context.Context) ([]store.UserProfile, error) {
	return l.backend.ListUsers(ctx)
}
