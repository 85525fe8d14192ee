// Package anthropic implements the model provider on Anthropic's Messages
// API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deskpilot/deskpilot/pkg/domain"
	"github.com/deskpilot/deskpilot/pkg/model"
)

const (
	defaultModel      = "claude-sonnet-4-20250514"
	defaultMaxTokens  = 4096
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Provider implements model.Provider using the official Anthropic SDK with
// streaming responses and bounded retry on transient failures.
type Provider struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
}

var _ model.Provider = (*Provider)(nil)

// Config holds provider construction parameters. Only APIKey is required.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// New creates a Provider from the given config.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Provider{
		client:     anthropic.NewClient(opts...),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

// Complete streams one completion. Transient failures (rate limits, server
// errors) that occur before any chunk was delivered are retried with
// exponential backoff; exhaustion surfaces a model.ErrBackend chunk.
func (p *Provider) Complete(ctx context.Context, req *model.Request) (<-chan model.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan model.Chunk)
	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			emitted, err := p.streamOnce(ctx, params, chunks)
			if err == nil {
				return
			}
			lastErr = err
			if emitted || !isRetryable(err) {
				break
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				slog.Warn("Retrying model call", "attempt", attempt+1, "backoff", backoff, "error", err)
				select {
				case <-ctx.Done():
					chunks <- model.Chunk{Err: fmt.Errorf("%w: %v", model.ErrBackend, ctx.Err())}
					return
				case <-time.After(backoff):
				}
			}
		}
		chunks <- model.Chunk{Err: fmt.Errorf("%w: %v", model.ErrBackend, lastErr)}
	}()
	return chunks, nil
}

// streamOnce runs one streaming attempt. It reports whether any chunk was
// delivered to the caller, which disables retry: a partially consumed stream
// cannot be transparently replayed.
func (p *Provider) streamOnce(ctx context.Context, params anthropic.MessageNewParams, chunks chan<- model.Chunk) (emitted bool, err error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		blockType    string
		textBuf      strings.Builder
		toolUse      *domain.ContentBlock
		toolInputBuf strings.Builder
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			blockType = start.ContentBlock.Type
			switch blockType {
			case "text":
				textBuf.Reset()
			case "tool_use":
				tu := start.ContentBlock.AsToolUse()
				toolUse = &domain.ContentBlock{Type: domain.BlockTypeToolUse, ID: tu.ID, Name: tu.Name}
				toolInputBuf.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuf.WriteString(delta.Text)
					chunks <- model.Chunk{Text: delta.Text}
					emitted = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- model.Chunk{Thinking: delta.Thinking}
					emitted = true
				}
			case "input_json_delta":
				toolInputBuf.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			switch blockType {
			case "text":
				if textBuf.Len() > 0 {
					block := domain.NewTextBlock(textBuf.String())
					chunks <- model.Chunk{Block: &block}
					emitted = true
				}
			case "tool_use":
				if toolUse != nil {
					input := map[string]any{}
					if raw := toolInputBuf.String(); raw != "" {
						if err := json.Unmarshal([]byte(raw), &input); err != nil {
							return emitted, fmt.Errorf("decoding tool input: %w", err)
						}
					}
					toolUse.Input = input
					chunks <- model.Chunk{Block: toolUse}
					emitted = true
					toolUse = nil
				}
			}
			blockType = ""

		case "message_stop":
			chunks <- model.Chunk{Done: true}
			return true, nil
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, err
	}
	return emitted, errors.New("stream ended without message_stop")
}

func (p *Provider) buildParams(req *model.Request) (anthropic.MessageNewParams, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps the persisted conversation into Anthropic's wire
// shape. Assistant messages that carry tool_result blocks (the store keeps a
// model turn's tool results inside the assistant message) are split: text and
// tool_use stay on the assistant turn, tool results become the following
// user turn, as the API requires.
func convertMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var own []anthropic.ContentBlockParamUnion
		var folded []anthropic.ContentBlockParamUnion

		for _, block := range msg.Blocks {
			switch block.Type {
			case domain.BlockTypeText:
				own = append(own, anthropic.NewTextBlock(block.Text))
			case domain.BlockTypeImage:
				if block.Source == nil {
					return nil, fmt.Errorf("image block without source")
				}
				own = append(own, anthropic.NewImageBlockBase64(block.Source.MediaType, block.Source.Data))
			case domain.BlockTypeToolUse:
				own = append(own, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
			case domain.BlockTypeToolResult:
				converted := convertToolResult(block)
				if msg.Role == domain.RoleAssistant {
					folded = append(folded, converted...)
				} else {
					own = append(own, converted...)
				}
			}
		}

		if len(own) > 0 {
			if msg.Role == domain.RoleAssistant {
				result = append(result, anthropic.NewAssistantMessage(own...))
			} else {
				result = append(result, anthropic.NewUserMessage(own...))
			}
		}
		if len(folded) > 0 {
			result = append(result, anthropic.NewUserMessage(folded...))
		}
	}
	return result, nil
}

// convertToolResult flattens a tool_result block: text output travels inside
// the tool_result param, screenshots follow as sibling image blocks.
func convertToolResult(block domain.ContentBlock) []anthropic.ContentBlockParamUnion {
	var text []string
	var images []anthropic.ContentBlockParamUnion
	for _, nested := range block.Content {
		switch nested.Type {
		case domain.BlockTypeText:
			text = append(text, nested.Text)
		case domain.BlockTypeImage:
			if nested.Source != nil {
				images = append(images, anthropic.NewImageBlockBase64(nested.Source.MediaType, nested.Source.Data))
			}
		}
	}
	out := []anthropic.ContentBlockParamUnion{
		anthropic.NewToolResultBlock(block.ToolUseID, strings.Join(text, "\n"), block.IsError),
	}
	return append(out, images...)
}

func convertTools(specs []model.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, spec := range specs {
		raw, err := json.Marshal(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema for %s: %w", spec.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// isRetryable reports whether a request error is transient: rate limits,
// overload, timeouts, and server-side failures.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504, 529:
			return true
		}
		return false
	}
	// Network-level failures without an API status are worth retrying.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
