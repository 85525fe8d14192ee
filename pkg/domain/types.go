package domain

import "time"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle state of a session. Transitions are driven only by
// the agent loop; a session is never mutated by two loops at once.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Session is one persistent conversation between a user and the agent.
type Session struct {
	ID            string    `json:"session_id"`
	DisplayName   string    `json:"display_name"`
	Status        Status    `json:"status"`
	InitialPrompt string    `json:"initial_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	DisplayName  string    `json:"display_name"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is one turn entry in a session's conversation. Messages are
// immutable once persisted; the loop appends, never edits.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// BlockType tags the variant of a ContentBlock.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeImage      BlockType = "image"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged union of the four content variants. The JSON shape
// matches the wire format the model backend produces, so a block sequence
// round-trips through encoding without loss.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text (type == "text").
	Text string `json:"text,omitempty"`

	// Source (type == "image").
	Source *ImageSource `json:"source,omitempty"`

	// ID, Name, Input (type == "tool_use").
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// ToolUseID, IsError, Content (type == "tool_result"). Content holds the
	// tool's output blocks (text and/or image).
	ToolUseID string         `json:"tool_use_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
}

// ImageSource carries base64-encoded image bytes.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewImageBlock builds a base64 image content block.
func NewImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{
		Type:   BlockTypeImage,
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data},
	}
}

// NewToolUseBlock builds a tool invocation block.
func NewToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a tool result block referencing a prior tool_use.
func NewToolResultBlock(toolUseID string, isError bool, output []ContentBlock) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, IsError: isError, Content: output}
}
