// Package admin serves the operator HTTP API: the recent message feed, a
// send path into chats, the reputation board and chat memory inspection.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"neurodeep/internal/counter"
	"neurodeep/internal/feed"
	"neurodeep/internal/memory"
	"neurodeep/internal/observability"
	"neurodeep/internal/reputation"
)

// Sender posts a message into a chat on behalf of the operator.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Deps struct {
	Feed    *feed.Feed
	Sender  Sender
	Ledger  *reputation.Ledger
	Memory  *memory.Store
	Counter *counter.Counter
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type Server struct {
	token    string
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

const (
	defaultLimit = 50
	maxLimit     = 500
	wsBacklog    = 20
)

func New(token string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		token:  token,
		deps:   deps,
		logger: logger.With("component", "admin"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Access is gated by the admin token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/messages", s.handleMessages)
		r.Post("/send", s.handleSend)
		r.Get("/users/top", s.handleTop)
		r.Get("/chats/{chatID}/memory", s.handleGetMemory)
		r.Delete("/chats/{chatID}/memory", s.handleClearMemory)
		r.Get("/chats/{chatID}/counter", s.handleCounter)
		r.Get("/feed/ws", s.handleFeedWS)
	})
	return r
}

// ListenAndServe runs the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if got == "" {
			// Browsers cannot set headers on websocket upgrades.
			got = r.URL.Query().Get("token")
		}
		if s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": s.deps.Feed.Recent(limit)})
}

type sendRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.ChatID == 0 || req.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "chat_id and text are required")
		return
	}
	if err := s.deps.Sender.SendText(r.Context(), req.ChatID, req.Text); err != nil {
		s.logger.Warn("operator send failed", "chat_id", req.ChatID, "error", err)
		respondError(w, http.StatusBadGateway, "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	users, err := s.deps.Ledger.Top(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

type turnView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	history, err := s.deps.Memory.History(r.Context(), chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	turns := make([]turnView, 0, len(history))
	for _, m := range history {
		turns = append(turns, turnView{Role: m.Role, Content: m.Content})
	}
	respondJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "limit": s.deps.Memory.Limit(), "turns": turns})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Memory.Clear(r.Context(), chatID); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.logger.Info("chat memory cleared by operator", "chat_id", chatID)
	w.WriteHeader(http.StatusNoContent)
}

type counterView struct {
	ChatID    int64 `json:"chat_id"`
	Count     int   `json:"count"`
	Threshold int   `json:"threshold"`
	Seen      bool  `json:"seen"`
	Min       int   `json:"min"`
	Max       int   `json:"max"`
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if s.deps.Counter == nil {
		respondError(w, http.StatusNotFound, "not_configured", "trigger counter is not configured")
		return
	}
	row, seen, err := s.deps.Counter.Peek(r.Context(), chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	lo, hi := s.deps.Counter.Range()
	respondJSON(w, http.StatusOK, counterView{
		ChatID:    chatID,
		Count:     row.MessageCount,
		Threshold: row.NextTrigger,
		Seen:      seen,
		Min:       lo,
		Max:       hi,
	})
}

// handleFeedWS streams feed entries as JSON text frames, starting with a
// short backlog.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	entries, cancelSub := s.deps.Feed.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	for _, e := range s.deps.Feed.Recent(wsBacklog) {
		if err := write(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_chat_id", "chat id must be an integer")
		return 0, false
	}
	return id, true
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
