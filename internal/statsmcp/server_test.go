package statsmcp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"neurodeep/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil), st
}

func textOf(t *testing.T, res *mcp.CallToolResultFor[any]) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func TestTopReputation(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	_, _ = st.UpsertUser(ctx, 1, "alice", "Alice", now)
	_, _ = st.UpsertUser(ctx, 2, "bob", "", now)
	_, _ = st.AdjustReputation(ctx, 2, 7)

	res, err := s.TopReputation(ctx, nil, &mcp.CallToolParamsFor[TopParams]{})
	if err != nil {
		t.Fatalf("TopReputation: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	text := textOf(t, res)
	if !strings.Contains(text, "1. @bob (id 2): reputation 7") {
		t.Fatalf("bob should lead:\n%s", text)
	}
	if !strings.Contains(text, "2. Alice") {
		t.Fatalf("alice should follow:\n%s", text)
	}
}

func TestTopReputationEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	res, _ := s.TopReputation(context.Background(), nil, &mcp.CallToolParamsFor[TopParams]{Arguments: TopParams{Limit: 500}})
	if res.IsError || textOf(t, res) != "Leaderboard is empty" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUserProfile(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	_, _ = st.UpsertUser(ctx, 5, "vasya", "Вася Пупкин", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	res, _ := s.UserProfile(ctx, nil, &mcp.CallToolParamsFor[UserParams]{Arguments: UserParams{UserID: 5}})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	if text := textOf(t, res); !strings.HasPrefix(text, "Вася Пупкин (id 5)") || !strings.Contains(text, "first seen: 2025-03-01 12:00") {
		t.Fatalf("unexpected profile:\n%s", text)
	}

	res, _ = s.UserProfile(ctx, nil, &mcp.CallToolParamsFor[UserParams]{Arguments: UserParams{UserID: 6}})
	if !res.IsError || !strings.Contains(textOf(t, res), "not found") {
		t.Fatalf("missing user should be a tool error: %+v", res)
	}

	res, _ = s.UserProfile(ctx, nil, &mcp.CallToolParamsFor[UserParams]{})
	if !res.IsError {
		t.Fatal("zero user_id should be a tool error")
	}
}

func TestChatMemory(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	_, _ = st.InsertTurn(ctx, -100, "user", "[Вася]: привет", now)
	_, _ = st.InsertTurn(ctx, -100, "assistant", "здарова", now)

	res, _ := s.ChatMemory(ctx, nil, &mcp.CallToolParamsFor[MemoryParams]{Arguments: MemoryParams{ChatID: -100}})
	text := textOf(t, res)
	if res.IsError || !strings.Contains(text, "(2 turns)") || strings.Index(text, "user:") > strings.Index(text, "assistant:") {
		t.Fatalf("unexpected memory dump:\n%s", text)
	}

	res, _ = s.ChatMemory(ctx, nil, &mcp.CallToolParamsFor[MemoryParams]{Arguments: MemoryParams{ChatID: 1}})
	if res.IsError || !strings.Contains(textOf(t, res), "no stored memory") {
		t.Fatalf("empty chat: %+v", res)
	}
}

type brokenBackend struct{}

func (brokenBackend) TopUsers(context.Context, int) ([]store.UserProfile, error) {
	return nil, errors.New("db down")
}
func (brokenBackend) GetUser(context.Context, int64) (store.UserProfile, error) {
	return store.UserProfile{}, errors.New("db down")
}
func (brokenBackend) ListTurns(context.Context, int64) ([]store.Turn, error) {
	return nil, errors.New("db down")
}

func TestBackendFailuresAreToolErrors(t *testing.T) {
	s := New(brokenBackend{}, nil)
	ctx := context.Background()

	top, err := s.TopReputation(ctx, nil, &mcp.CallToolParamsFor[TopParams]{})
	if err != nil || !top.IsError {
		t.Fatalf("top: %+v %v", top, err)
	}
	user, err := s.UserProfile(ctx, nil, &mcp.CallToolParamsFor[UserParams]{Arguments: UserParams{UserID: 1}})
	if err != nil || !user.IsError {
		t.Fatalf("user: %+v %v", user, err)
	}
	mem, err := s.ChatMemory(ctx, nil, &mcp.CallToolParamsFor[MemoryParams]{Arguments: MemoryParams{ChatID: 1}})
	if err != nil || !mem.IsError {
		t.Fatalf("memory: %+v %v", mem, err)
	}
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	s, _ := newTestServer(t)
	if NewMCPServer(s.backend, "test", nil) == nil {
		t.Fatal("nil server")
	}
}
