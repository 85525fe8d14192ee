package model

import (
	"context"
	"errors"

	"github.com/deskpilot/deskpilot/pkg/domain"
)

// ErrBackend wraps failures of the model backend that survived retry. The
// loop treats it as fatal for the current turn.
var ErrBackend = errors.New("model backend error")

// Message is one conversation turn sent to the model backend.
type Message struct {
	Role   domain.Role
	Blocks []domain.ContentBlock
}

// ToolSpec describes a tool the model may invoke.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a single completion request: the full conversation context plus
// the tool registry exposed for this turn.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Message
	Tools     []ToolSpec
}

// Chunk is one unit of a streamed completion. Exactly one field group is set:
//   - Thinking / Text: incremental deltas, surfaced to viewers as progress
//   - Block: a completed content block of the final response
//   - Done: the response finished; all Blocks have been delivered
//   - Err: the request failed (retries exhausted)
type Chunk struct {
	Thinking string
	Text     string
	Block    *domain.ContentBlock
	Done     bool
	Err      error
}

// Provider is the language-model backend, treated as a black-box completion
// service. Complete returns a channel that is closed after a Done or Err
// chunk.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (<-chan Chunk, error)
}
