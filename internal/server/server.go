// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the PRD chat service over HTTP.
//
// Endpoints:
//   - POST   /api/chat               - apply one chat message
//   - POST   /api/chat/reset         - reset a session
//   - GET    /api/export             - export the PRD (plain + compressed)
//   - POST   /api/restore            - restore a PRD from an export paste
//   - POST   /api/messages/delete    - delete a message and rebuild
//   - GET    /api/session/status     - session snapshot
//   - POST   /api/unlock             - lift the free task limit
//   - POST   /api/conversations/save - persist a session
//   - GET    /api/conversations      - list or search saved sessions
//   - POST   /api/conversations/load - resume a saved session
//   - DELETE /api/conversations/{id} - delete a saved session
//   - GET    /health                 - health check
//   - GET    /stats                  - usage statistics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Snail3D/prplbry/internal/config"
	"github.com/Snail3D/prplbry/internal/engine"
	"github.com/Snail3D/prplbry/internal/model"
	"github.com/Snail3D/prplbry/internal/prd"
	"github.com/Snail3D/prplbry/internal/session"
	"github.com/Snail3D/prplbry/internal/storage"
	"github.com/Snail3D/prplbry/internal/util"
)

// MaxRequestBodySize bounds request bodies.
const MaxRequestBodySize = 1 * 1024 * 1024

// Version is the service version.
const Version = "0.3.0"

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counts since startup.
type ServerStats struct {
	mu sync.Mutex

	TotalRequests int64     `json:"total_requests"`
	ChatTurns     int64     `json:"chat_turns"`
	Exports       int64     `json:"exports"`
	Restores      int64     `json:"restores"`
	Rebuilds      int64     `json:"rebuilds"`
	StartTime     time.Time `json:"start_time"`
}

// NewServerStats creates zeroed stats.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

func (s *ServerStats) record(field *int64) {
	s.mu.Lock()
	s.TotalRequests++
	if field != nil {
		*field++
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current stats.
func (s *ServerStats) Snapshot() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerStats{
		TotalRequests: s.TotalRequests,
		ChatTurns:     s.ChatTurns,
		Exports:       s.Exports,
		Restores:      s.Restores,
		Rebuilds:      s.Rebuilds,
		StartTime:     s.StartTime,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end over the session registry and stores.
type Server struct {
	cfg      *config.Config
	mux      *http.ServeMux
	srv      *http.Server
	sessions *session.Manager
	saved    *storage.SavedStore
	counters *storage.CounterStore // nil when counters are disabled
	stats    *ServerStats
}

// New creates a Server wired to the given stores. counters may be nil.
func New(cfg *config.Config, sessions *session.Manager, saved *storage.SavedStore, counters *storage.CounterStore) *Server {
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		sessions: sessions,
		saved:    saved,
		counters: counters,
		stats:    NewServerStats(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/chat/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/restore", s.handleRestore)
	s.mux.HandleFunc("POST /api/messages/delete", s.handleDeleteMessage)
	s.mux.HandleFunc("GET /api/session/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/unlock", s.handleUnlock)

	s.mux.HandleFunc("POST /api/conversations/save", s.handleSave)
	s.mux.HandleFunc("GET /api/conversations", s.handleList)
	s.mux.HandleFunc("POST /api/conversations/load", s.handleLoad)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteSaved)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(),
		CORSMiddleware(s.cfg.Server.CORSOrigin),
		AuthMiddleware(s.cfg.Server.AuthToken),
		RateLimitMiddleware(s.cfg.Server.RateLimitPerMin, s.cfg.Server.RateLimitBurst),
	)(s.mux)
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("SERVER_START | addr=%s version=%s", s.cfg.ListenAddr(), Version)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	log.Printf("SERVER_STOP | addr=%s", s.cfg.ListenAddr())
	return s.srv.Shutdown(ctx)
}

// ============================================================================
// REQUEST TYPES
// ============================================================================

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type restoreRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type deleteMessageRequest struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
}

type unlockRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type loadRequest struct {
	ID string `json:"id"`
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if util.RuneLen(req.Message) > s.cfg.Limits.MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	resp, err := s.sessions.Chat(req.SessionID, req.Message)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(&s.stats.ChatTurns)
	s.count(r.Context(), storage.CounterMessages)
	if resp.SessionID != req.SessionID {
		s.count(r.Context(), storage.CounterSessions)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.sessions.Reset(req.SessionID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(nil)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	export, compressed, err := s.sessions.Export(id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(&s.stats.Exports)
	s.count(r.Context(), storage.CounterExports)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"export":     export,
		"compressed": compressed,
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	if util.RuneLen(req.Text) > s.cfg.Limits.MaxRestoreLength {
		s.writeError(w, http.StatusBadRequest, "restore text too long")
		return
	}

	resp, err := s.sessions.Restore(req.SessionID, req.Text)
	if err != nil {
		var parseErr *prd.ParseError
		if errors.As(err, &parseErr) {
			s.writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(&s.stats.Restores)
	s.count(r.Context(), storage.CounterRestores)
	if resp.SessionID != req.SessionID {
		s.count(r.Context(), storage.CounterSessions)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req deleteMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.sessions.DeleteMessage(req.SessionID, req.Index)
	if err != nil {
		if errors.Is(err, model.ErrMessageIndex) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(&s.stats.Rebuilds)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Status(r.URL.Query().Get("session_id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(nil)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sessions.Unlock(req.SessionID, req.Code); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(nil)
	s.count(r.Context(), storage.CounterUnlocks)
	s.writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

// ============================================================================
// SAVED CONVERSATION HANDLERS
// ============================================================================

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	// One atomic capture: a chat turn landing between separate reads could
	// persist a log that disagrees with the export snapshot.
	state, err := s.sessions.SaveState(req.SessionID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	snapshot := storage.Snapshot(state.Conv, state.Step, state.Export, state.Unlocked, state.Restored)

	id, err := s.saved.Save(snapshot)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "save failed")
		log.Printf("SAVE_ERROR | session=%s err=%v", req.SessionID, err)
		return
	}
	s.stats.record(nil)
	s.count(r.Context(), storage.CounterSaves)
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	metas, err := s.saved.Search(r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	s.stats.record(nil)
	s.writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.saved.Load(req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrSavedNotFound) {
			s.writeError(w, http.StatusNotFound, "saved session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load failed")
		return
	}

	resp, err := s.sessions.Adopt(st.Conversation(), st.Export, st.Step, st.Unlocked, st.Restored)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.stats.record(nil)
	s.count(r.Context(), storage.CounterSessions)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.saved.Delete(id); err != nil {
		if errors.Is(err, storage.ErrSavedNotFound) {
			s.writeError(w, http.StatusNotFound, "saved session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.stats.record(nil)
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	payload := map[string]any{
		"server":        &snap,
		"live_sessions": s.sessions.Count(),
		"uptime":        time.Since(snap.StartTime).Round(time.Second).String(),
	}
	if s.counters != nil {
		if totals, err := s.counters.Totals(r.Context()); err == nil {
			payload["totals"] = totals
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode parses a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("BAD_REQUEST | path=%s err=%v", r.URL.Path, err)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// count bumps a usage counter when the counter store is enabled.
func (s *Server) count(ctx context.Context, name string) {
	if s.counters == nil {
		return
	}
	if err := s.counters.Increment(ctx, name); err != nil {
		log.Printf("COUNTER_ERROR | name=%s err=%v", name, err)
	}
}

// writeSessionError maps session and engine errors to HTTP responses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSessionLimit):
		s.writeError(w, http.StatusServiceUnavailable, "session limit reached, try again later")
	case errors.Is(err, session.ErrTaskLimit):
		s.writeError(w, http.StatusForbidden, "free task limit reached, unlock to continue")
	case errors.Is(err, session.ErrBadUnlockCode):
		s.writeError(w, http.StatusForbidden, "invalid unlock code")
	case errors.Is(err, engine.ErrEmptyInput):
		s.writeError(w, http.StatusBadRequest, "message is empty")
	default:
		log.Printf("INTERNAL_ERROR | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, "request failed")
	}
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WRITE_ERROR | err=%v", err)
	}
}

// writeError writes a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
