// Package sqlite implements the conversation store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/deskpilot/deskpilot/pkg/domain"
	"github.com/deskpilot/deskpilot/pkg/store"
)

// snippetLimit caps search result snippets.
const snippetLimit = 200

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'created',
		initial_prompt TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL DEFAULT '[]',
		search_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = domain.StatusCreated
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, display_name, status, initial_prompt, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.DisplayName, sess.Status, sess.InitialPrompt, sess.CreatedAt,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, status, initial_prompt, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.DisplayName, &sess.Status, &sess.InitialPrompt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	return sess, err
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.display_name, s.status, s.created_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.DisplayName, &sum.Status, &sum.CreatedAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	// The FK cascade removes messages, but older databases may have been
	// created before foreign keys were enforced on the connection.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, sessionID string, role domain.Role, blocks []domain.ContentBlock) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   blocks,
		CreatedAt: time.Now().UTC(),
	}

	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	var maxSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&maxSeq); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, message_type, content, search_text, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, role, messageType(blocks), string(content),
		searchText(blocks), msg.CreatedAt, maxSeq+1,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var content string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
			return nil, fmt.Errorf("decoding content of message %s: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

// --- Search ---

func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := "%" + escapeLike(strings.ToLower(query)) + "%"

	// One row per session: the most recent message whose text matched.
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, s.display_name, m.id, m.search_text, m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE LOWER(m.search_text) LIKE ? ESCAPE '\'
		  AND m.seq = (
			SELECT MAX(m2.seq) FROM messages m2
			WHERE m2.session_id = m.session_id AND LOWER(m2.search_text) LIKE ? ESCAPE '\'
		  )
		ORDER BY m.created_at DESC
		LIMIT ?`, needle, needle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var text string
		var createdAt time.Time
		if err := rows.Scan(&r.SessionID, &r.DisplayName, &r.MessageID, &text, &createdAt); err != nil {
			return nil, err
		}
		r.Snippet = snippet(text)
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		results = append(results, r)
	}
	return results, rows.Err()
}

// messageType distinguishes text-only from image-bearing rows so history and
// search queries can filter without decoding content payloads.
func messageType(blocks []domain.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == domain.BlockTypeImage {
			return "image"
		}
		if b.Type == domain.BlockTypeToolResult {
			for _, nested := range b.Content {
				if nested.Type == domain.BlockTypeImage {
					return "image"
				}
			}
		}
	}
	return "text"
}

// searchText extracts the text content of a message for substring search,
// preserving its casing so snippets read as written; matching lowercases both
// sides at query time. Image payloads are deliberately excluded so search
// never decodes binary data.
func searchText(blocks []domain.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case domain.BlockTypeText:
			parts = append(parts, b.Text)
		case domain.BlockTypeToolResult:
			for _, nested := range b.Content {
				if nested.Type == domain.BlockTypeText {
					parts = append(parts, nested.Text)
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

// escapeLike makes LIKE treat %, _, and the escape char in a query as
// literals.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit])
}
