// Package server exposes the runtime over HTTP and pushes change
// notifications to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"claudeview/internal/index"
	"claudeview/internal/pubsub"
	"claudeview/internal/types"
)

// Core is the part of the runtime the transport consumes.
type Core interface {
	ListSessions(ctx context.Context) ([]types.Session, error)
	ListProjects(ctx context.Context) ([]types.Project, error)
	LookupSession(sessionID string) (index.Entry, bool)
	GetConversationIncremental(sessionID string, offset int) ([]types.Record, int, error)
	OnIndexChanged(fn func(types.IndexChange) error) pubsub.Handle
	OffIndexChanged(h pubsub.Handle) bool
	OnSessionChanged(fn func(types.SessionChange) error) pubsub.Handle
	OffSessionChanged(h pubsub.Handle) bool
	InvalidateHistoryCache()
	RegisterDiscoveredFile(sessionID, filePath string) error
	Watching() bool
}

// Options configures a Server.
type Options struct {
	Addr   string
	Logger *slog.Logger
}

// Server serves the JSON API and the /ws push channel.
type Server struct {
	core     Core
	addr     string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a server over core.
func New(core Core, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		core:   core,
		addr:   opts.Addr,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local tool; browsers on any localhost port may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleConversation)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully and
// disconnects websocket clients.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "path", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// =============================================================================
// HTTP HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"watching": s.core.Watching(),
		"clients":  s.ClientCount(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.core.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if project := r.URL.Query().Get("project"); project != "" {
		filtered := make([]types.Session, 0, len(sessions))
		for _, sess := range sessions {
			if sess.ProjectPath == project || index.ProjectName(sess.ProjectPath) == project {
				filtered = append(filtered, sess)
			}
		}
		sessions = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.core.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// ConversationResponse is the body of GET /api/sessions/{id}.
type ConversationResponse struct {
	SessionID  string         `json:"sessionId"`
	Offset     int            `json:"offset"`
	NextOffset int            `json:"nextOffset"`
	Records    []types.Record `json:"records"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid offset %q", raw))
			return
		}
		offset = v
	}

	records, next, err := s.core.GetConversationIncremental(id, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []types.Record{}
	}
	writeJSON(w, http.StatusOK, ConversationResponse{
		SessionID:  id,
		Offset:     offset,
		NextOffset: next,
		Records:    records,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
