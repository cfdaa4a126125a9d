// Package api serves chat turns over HTTP and WebSocket, along with
// conversation history, usage totals and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/nugget/taskpilot/internal/agent"
	"github.com/nugget/taskpilot/internal/buildinfo"
	"github.com/nugget/taskpilot/internal/interactions"
	"github.com/nugget/taskpilot/internal/observability"
	"github.com/nugget/taskpilot/internal/usage"
)

// DefaultUser is the user id for requests that do not name one.
const DefaultUser = "default"

// userHeader carries the caller's user id.
const userHeader = "X-User-ID"

// Chatter runs one user turn. *agent.Manager implements it.
type Chatter interface {
	Handle(ctx context.Context, userID, message string) (*agent.Result, error)
}

// HistorySource reads stored conversations.
type HistorySource interface {
	History(ctx context.Context, conversationID string, limit int) ([]*interactions.Turn, error)
	RecentConversations(ctx context.Context, limit int) ([]string, error)
}

// UsageSource reads token usage totals.
type UsageSource interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// Config controls the listener and websocket policy.
type Config struct {
	Address        string
	Port           int
	AllowAnyOrigin bool

	// ChunkSize bounds websocket reply frames. Default 2000 runes.
	ChunkSize int
}

// Deps are the server's collaborators. Only Chat is required.
type Deps struct {
	Chat    Chatter
	History HistorySource
	Usage   UsageSource
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates an API server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/ws", s.handleWS)

	r.Get("/v1/conversations", s.handleConversationList)
	r.Get("/v1/conversations/{id}", s.handleConversationGet)
	r.Get("/v1/usage", s.handleUsage)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // a turn may take several model calls
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", addr)
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// checkOrigin allows non-browser clients and same-origin browsers.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":    "taskpilot",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, buildinfo.Get())
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	Response       string        `json:"response"`
	Outcome        agent.Outcome `json:"outcome"`
	ConversationID string        `json:"conversation_id"`
	Draft          string        `json:"draft,omitempty"`
	Focus          string        `json:"focus,omitempty"`
	Iterations     int           `json:"iterations"`
}

func newChatResponse(res *agent.Result) ChatResponse {
	return ChatResponse{
		Response:       res.Content,
		Outcome:        res.Outcome,
		ConversationID: res.ConversationID,
		Draft:          res.Draft,
		Focus:          res.Focus,
		Iterations:     res.Iterations,
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := s.deps.Chat.Handle(r.Context(), userID(r, req.UserID), req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		respondError(w, http.StatusBadGateway, "agent error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newChatResponse(res))
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "history not available")
		return
	}
	ids, err := s.deps.History.RecentConversations(r.Context(), intParam(r, "limit", 20))
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		respondError(w, http.StatusInternalServerError, "list conversations failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": ids, "count": len(ids)})
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "history not available")
		return
	}
	id := chi.URLParam(r, "id")
	turns, err := s.deps.History.History(r.Context(), id, intParam(r, "limit", interactions.DefaultHistoryLimit))
	if err != nil {
		s.logger.Error("conversation history failed", "conversation_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "history failed")
		return
	}
	if len(turns) == 0 {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "turns": turns})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		respondError(w, http.StatusNotImplemented, "usage not available")
		return
	}
	days := intParam(r, "days", 7)
	if days <= 0 {
		days = 7
	}
	end := time.Now().Add(time.Minute)
	start := end.AddDate(0, 0, -days)

	total, err := s.deps.Usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		respondError(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		respondError(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"total":    total,
		"by_model": byModel,
	})
}

// userID picks the caller from the body, then the header, then the
// default.
func userID(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(userHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("user_id")); id != "" {
		return id
	}
	return DefaultUser
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
