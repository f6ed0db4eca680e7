// Package statsmcp exposes the bot's reputation board and chat memory as
// read-only MCP tools.
package statsmcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"neurodeep/internal/store"
)

// Backend is the read side of store.Store used by the tools.
type Backend interface {
	TopUsers(ctx context.Context, n int) ([]store.UserProfile, error)
	GetUser(ctx context.Context, userID int64) (store.UserProfile, error)
	ListTurns(ctx context.Context, chatID int64) ([]store.Turn, error)
}

// TopParams параметры для таблицы репутации
type TopParams struct {
	Limit int `json:"limit,omitempty" mcp:"number of users to return (default: 10, max: 100)"`
}

// UserParams параметры для профиля пользователя
type UserParams struct {
	UserID int64 `json:"user_id" mcp:"telegram user id"`
}

// MemoryParams параметры для памяти чата
type MemoryParams struct {
	ChatID int64 `json:"chat_id" mcp:"telegram chat id"`
}

const (
	defaultTop = 10
	maxTop     = 100
)

type Server struct {
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, logger: logger.With("component", "statsmcp")}
}

// Register adds every tool to server.
func (s *Server) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "top_reputation",
		Description: "Returns the reputation leaderboard: users ordered by reputation, then message count",
	}, s.TopReputation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_profile",
		Description: "Returns the stored profile of a user: names, reputation, message count, first and last seen",
	}, s.UserProfile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_memory",
		Description: "Returns the rolling conversation memory the bot keeps for a chat, oldest first",
	}, s.ChatMemory)
}

// NewMCPServer builds a stdio-ready MCP server with the tools registered.
func NewMCPServer(backend Backend, version string, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "neurodeep-stats-mcp",
		Version: version,
	}, nil)
	New(backend, logger).Register(server)
	return server
}

func (s *Server) TopReputation(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[TopParams]) (*mcp.CallToolResultFor[any], error) {
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = defaultTop
	}
	if limit > maxTop {
		limit = maxTop
	}
	s.logger.Info("tool call", "tool", "top_reputation", "limit", limit)

	users, err := s.backend.TopUsers(ctx, limit)
	if err != nil {
		return toolError("failed to load leaderboard: %v", err), nil
	}
	if len(users) == 0 {
		return toolText("Leaderboard is empty", nil), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d users:\n", len(users))
	for i, u := range users {
		fmt.Fprintf(&b, "%d. %s (id %d): reputation %d, messages %d\n", i+1, u.DisplayName(), u.UserID, u.Reputation, u.Messages)
	}
	return toolText(b.String(), users), nil
}

func (s *Server) UserProfile(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.UserID
	s.logger.Info("tool call", "tool", "user_profile", "user_id", id)
	if id == 0 {
		return toolError("user_id is required"), nil
	}

	u, err := s.backend.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return toolError("user %d not found", id), nil
	}
	if err != nil {
		return toolError("failed to load user: %v", err), nil
	}
	text := fmt.Sprintf("%s (id %d)\nreputation: %d\nmessages: %d\nfirst seen: %s\nlast seen: %s",
		u.DisplayName(), u.UserID, u.Reputation, u.Messages,
		u.FirstSeen.UTC().Format("2006-01-02 15:04"), u.LastSeen.UTC().Format("2006-01-02 15:04"))
	return toolText(text, u), nil
}

func (s *Server) ChatMemory(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[MemoryParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.ChatID
	s.logger.Info("tool call", "tool", "chat_memory", "chat_id", id)
	if id == 0 {
		return toolError("chat_id is required"), nil
	}

	turns, err := s.backend.ListTurns(ctx, id)
	if err != nil {
		return toolError("failed to load memory: %v", err), nil
	}
	if len(turns) == 0 {
		return toolText(fmt.Sprintf("Chat %d has no stored memory", id), nil), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chat %d memory (%d turns):\n", id, len(turns))
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.CreatedAt.UTC().Format("01-02 15:04"), t.Role, t.Content)
	}
	return toolText(b.String(), nil), nil
}

// toolText returns text content, with data attached as metadata when set.
func toolText(text string, data any) *mcp.CallToolResultFor[any] {
	res := &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
	if data != nil {
		res.Meta = map[string]any{"data": data}
	}
	return res
}

func toolError(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
