// Package server exposes the session API over HTTP and live session events
// over WebSocket.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/deskpilot/deskpilot/pkg/events"
	"github.com/deskpilot/deskpilot/pkg/registry"
	"github.com/deskpilot/deskpilot/pkg/store"
)

// Server routes API requests to the store and the session registry.
type Server struct {
	store    store.Store
	registry *registry.Registry
	broker   *events.Broker
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(s store.Store, r *registry.Registry, b *events.Broker) *Server {
	return &Server{
		store:    s,
		registry: r,
		broker:   b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sessions are unauthenticated in this deployment; the API is
			// expected to sit behind a trusted frontend.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/search", s.handleSearch)
		r.Route("/session/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/history", s.handleGetHistory)
			r.Delete("/", s.handleDeleteSession)
		})
	})
	r.Get("/ws/session/{sessionID}", s.handleWebSocket)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
