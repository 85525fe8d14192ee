package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deskpilot/deskpilot/pkg/domain"
	"github.com/deskpilot/deskpilot/pkg/store"
)

const displayNameLimit = 20

type createSessionRequest struct {
	DisplayName   string `json:"display_name"`
	InitialPrompt string `json:"initial_prompt"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = generateSessionName(req.InitialPrompt)
	}

	sess := &domain.Session{
		ID:            uuid.New().String(),
		DisplayName:   displayName,
		Status:        domain.StatusCreated,
		InitialPrompt: req.InitialPrompt,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		slog.Error("Failed to create session", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if strings.TrimSpace(req.InitialPrompt) != "" {
		s.registry.Submit(sess.ID, req.InitialPrompt)
	}
	slog.Info("Session created", "session_id", sess.ID, "display_name", sess.DisplayName)

	respondJSON(w, http.StatusCreated, map[string]string{
		"session_id":   sess.ID,
		"display_name": sess.DisplayName,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to load session", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	count, err := s.store.MessageCount(r.Context(), id)
	if err != nil {
		slog.Error("Failed to count messages", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"display_name":   sess.DisplayName,
		"status":         sess.Status,
		"created_at":     sess.CreatedAt,
		"initial_prompt": sess.InitialPrompt,
		"message_count":  count,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	history, err := s.store.GetHistory(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to load history", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []domain.Message{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := s.store.Search(r.Context(), query, limit)
	if err != nil {
		slog.Error("Search failed", "query", query, "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	// Stop the loop first so nothing writes to rows we are about to remove.
	s.registry.Stop(id)
	s.broker.CloseSession(id)

	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to delete session", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	slog.Info("Session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// generateSessionName derives a short display name from the first line of the
// prompt.
func generateSessionName(prompt string) string {
	line := strings.TrimSpace(prompt)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return "New Session"
	}
	runes := []rune(line)
	if len(runes) > displayNameLimit {
		return string(runes[:displayNameLimit]) + "..."
	}
	return line
}
