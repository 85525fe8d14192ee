package store

import (
	"context"
	"errors"

	"github.com/deskpilot/deskpilot/pkg/domain"
)

// ErrSessionNotFound is returned by any operation referencing an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

// SearchResult is the per-session most recent text match for a query.
type SearchResult struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
	MessageID   string `json:"message_id"`
	Snippet     string `json:"snippet"`
	CreatedAt   string `json:"created_at"`
}

// Store manages the durable, append-only conversation state. All writes for a
// single session are ordered by that session's loop, so implementations only
// need per-session isolation, not global locking.
type Store interface {
	// CreateSession persists a new session with status "created". The ID
	// field must be set by the caller.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// UpdateSessionStatus transitions a session's lifecycle status.
	UpdateSessionStatus(ctx context.Context, id string, status domain.Status) error

	// ListSessions returns summaries of all sessions, newest first.
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)

	// DeleteSession removes a session and all its messages atomically.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage appends a message in a single transaction: the message is
	// either fully visible with all its blocks or not visible at all.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, blocks []domain.ContentBlock) (*domain.Message, error)

	// GetHistory returns the session's messages in append order.
	GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error)

	// MessageCount returns the number of messages in a session.
	MessageCount(ctx context.Context, sessionID string) (int, error)

	// Search performs a case-insensitive substring match over text blocks
	// only. It returns at most one result per session (the most recent
	// matching message) across at most limit sessions, ordered by recency of
	// the matched message. Image payloads are never searched.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Close releases the underlying storage.
	Close() error
}
