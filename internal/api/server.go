// Package api provides the HTTP surface for the server: the session catalog
// REST endpoints, health checks, and the participant WebSocket entry point.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jamlink/jamlink/internal/config"
	"github.com/jamlink/jamlink/internal/router"
	"github.com/jamlink/jamlink/internal/store"
)

// listSessionsCap bounds a single catalog listing.
const listSessionsCap = 100

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	router       *router.Router
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, rt *router.Router, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		router:       rt,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Participant WebSocket entry point. The connection identifier is part of
	// the path and must be unique per live connection.
	mux.Get("/ws/{connectionID}", func(w http.ResponseWriter, r *http.Request) {
		rt.HandleWS(w, r, chi.URLParam(r, "connectionID"))
	})

	// Session catalog routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Route("/api", func(r chi.Router) {
		r.Get("/", srv.handleRoot)
		r.Get("/sessions", srv.handleListSessions)
		r.With(ipRateLimitMiddleware(srv.rl)).Post("/sessions", srv.handleCreateSession)
		r.Get("/sessions/{sessionID}", srv.handleGetSession)
		r.With(ipRateLimitMiddleware(srv.rl)).Post("/sessions/{sessionID}/close", srv.handleCloseSession)
		r.Get("/stats", srv.handleStats)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Music Sync Server Ready"})
}

// --- Session catalog handlers ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		SessionName string `json:"session_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionName == "" || len(req.SessionName) > 128 {
		writeError(w, http.StatusBadRequest, "session_name must be 1-128 characters")
		return
	}

	// HostID stays empty: the catalog is discovery bookkeeping and is never
	// reconciled with live routing state.
	sess := &store.Session{
		ID:        uuid.New().String(),
		Name:      req.SessionName,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.logger.Warn("failed to create catalog session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListActiveSessions(r.Context(), listSessionsCap)
	if err != nil {
		s.logger.Warn("failed to list catalog sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Warn("failed to get catalog session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !sess.IsActive {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_closed"})
		return
	}
	if err := s.store.SetSessionActive(r.Context(), sessionID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// --- Operational handlers ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions, connections := s.router.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"live_sessions":    sessions,
		"live_connections": connections,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
