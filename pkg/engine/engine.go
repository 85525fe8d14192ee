// Package engine implements the per-session agent loop: call the model,
// execute requested tools, persist the turn, and repeat until the model
// stops asking for tools.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskpilot/deskpilot/pkg/domain"
	"github.com/deskpilot/deskpilot/pkg/events"
	"github.com/deskpilot/deskpilot/pkg/model"
	"github.com/deskpilot/deskpilot/pkg/store"
	"github.com/deskpilot/deskpilot/pkg/tools"
)

// ErrLoopBudgetExceeded means the model kept requesting tools past the
// per-turn step limit.
var ErrLoopBudgetExceeded = errors.New("tool turn budget exceeded")

const defaultMaxTurns = 25

// systemPrompt describes the agent's environment and tools.
const systemPrompt = `You are a desktop automation agent with full access to a Linux desktop environment.

You can see the screen, run shell commands, and edit files:

- capture_screen: take a screenshot of the desktop. Always look at the screen before interacting with it and after actions that change it.
- run_command: run a shell command. Commands inherit the desktop's DISPLAY, so GUI tools like xdotool work.
- edit_file: view, create, or edit text files.

Work step by step. Verify the effect of each action before moving on. When the task is complete, summarize what you did.`

// Config tunes a session engine.
type Config struct {
	Model     string
	MaxTokens int
	// MaxTurns bounds model calls per user message. <= 0 selects the default.
	MaxTurns int
}

// Engine drives the agent loop for sessions. It is safe for concurrent use
// across sessions; per-session serialization is the registry's job.
type Engine struct {
	store      store.Store
	provider   model.Provider
	dispatcher *tools.Dispatcher
	broker     *events.Broker
	cfg        Config
}

// New creates an Engine.
func New(s store.Store, p model.Provider, d *tools.Dispatcher, b *events.Broker, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	return &Engine{store: s, provider: p, dispatcher: d, broker: b, cfg: cfg}
}

// RunTurn processes one user message: it persists the message, then loops
// model call → tool execution until the model responds without tool use, the
// turn budget runs out, the context is cancelled, or the backend fails.
//
// Each model call produces exactly one assistant message holding the model's
// text, its tool_use blocks, and the matching tool_result blocks. The message
// is persisted before any event derived from it is published, so viewers that
// re-sync from history never miss persisted content.
func (e *Engine) RunTurn(ctx context.Context, sessionID, userMessage string) error {
	log := slog.With("session_id", sessionID)

	if _, err := e.store.AppendMessage(ctx, sessionID, domain.RoleUser,
		[]domain.ContentBlock{domain.NewTextBlock(userMessage)}); err != nil {
		return fmt.Errorf("persisting user message: %w", err)
	}

	if err := e.store.UpdateSessionStatus(ctx, sessionID, domain.StatusRunning); err != nil {
		return fmt.Errorf("marking session running: %w", err)
	}

	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		toolUses, err := e.step(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(sessionID, domain.StatusCancelled, log, ctx.Err())
			}
			e.fail(sessionID, err.Error())
			return e.finish(sessionID, domain.StatusError, log, err)
		}
		if toolUses == 0 {
			e.broker.Publish(sessionID, events.Done())
			return e.finish(sessionID, domain.StatusCompleted, log, nil)
		}
		if ctx.Err() != nil {
			return e.finish(sessionID, domain.StatusCancelled, log, ctx.Err())
		}
	}

	log.Warn("Turn budget exceeded", "max_turns", e.cfg.MaxTurns)
	e.fail(sessionID, ErrLoopBudgetExceeded.Error())
	return e.finish(sessionID, domain.StatusError, log, ErrLoopBudgetExceeded)
}

// step performs one model call plus its tool executions and persists the
// resulting assistant message. It returns the number of tools the model
// requested; zero means the model is done.
func (e *Engine) step(ctx context.Context, sessionID string) (int, error) {
	history, err := e.store.GetHistory(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("loading history: %w", err)
	}
	if err := domain.ValidateBlocks(history); err != nil {
		return 0, fmt.Errorf("validating conversation: %w", err)
	}

	req := &model.Request{
		Model:     e.cfg.Model,
		System:    systemPrompt,
		MaxTokens: e.cfg.MaxTokens,
		Messages:  historyToMessages(history),
		Tools:     e.dispatcher.Specs(),
	}

	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("calling model: %w", err)
	}

	// Collect the response's content blocks, relaying deltas to viewers as
	// unpersisted thinking events.
	var responseBlocks []domain.ContentBlock
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return 0, chunk.Err
		case chunk.Thinking != "":
			e.broker.Publish(sessionID, events.Thinking(chunk.Thinking))
		case chunk.Text != "":
			e.broker.Publish(sessionID, events.Thinking(chunk.Text))
		case chunk.Block != nil:
			responseBlocks = append(responseBlocks, *chunk.Block)
		}
	}

	// Execute tool calls in request order, interleaving each result right
	// after its call so the persisted message reads as a transcript.
	var msgBlocks []domain.ContentBlock
	toolUses := 0
	for _, block := range responseBlocks {
		msgBlocks = append(msgBlocks, block)
		if block.Type != domain.BlockTypeToolUse {
			continue
		}
		toolUses++
		if ctx.Err() != nil {
			msgBlocks = append(msgBlocks, domain.NewToolResultBlock(block.ID, true,
				[]domain.ContentBlock{domain.NewTextBlock("cancelled before execution")}))
			continue
		}
		msgBlocks = append(msgBlocks, e.dispatcher.Dispatch(ctx, block))
	}

	if len(msgBlocks) == 0 {
		return 0, fmt.Errorf("model returned an empty response")
	}

	msg, err := e.store.AppendMessage(ctx, sessionID, domain.RoleAssistant, msgBlocks)
	if err != nil && ctx.Err() != nil {
		// Retry the persist off the cancelled context so the executed tools'
		// effects are not silently lost from the transcript.
		msg, err = e.store.AppendMessage(context.Background(), sessionID, domain.RoleAssistant, msgBlocks)
	}
	if err != nil {
		return 0, fmt.Errorf("persisting assistant message: %w", err)
	}

	e.publishMessage(sessionID, msg)
	return toolUses, nil
}

// publishMessage emits the events for a freshly persisted assistant message:
// its text, plus a dedicated image event per screenshot so viewers can render
// frames without digging through block trees.
func (e *Engine) publishMessage(sessionID string, msg *domain.Message) {
	if text := messageText(msg); text != "" {
		e.broker.Publish(sessionID, events.AgentMessage(text))
	}
	for _, block := range msg.Content {
		if block.Type != domain.BlockTypeToolResult {
			continue
		}
		for _, nested := range block.Content {
			if nested.Type == domain.BlockTypeImage && nested.Source != nil {
				e.broker.Publish(sessionID, events.Image(nested.Source.Data))
			}
		}
	}
}

// fail records a turn failure in the transcript and notifies viewers. The
// persisted error message keeps reconnecting viewers consistent with what
// live ones saw.
func (e *Engine) fail(sessionID, reason string) {
	if _, err := e.store.AppendMessage(context.Background(), sessionID, domain.RoleAssistant,
		[]domain.ContentBlock{domain.NewTextBlock("Error: " + reason)}); err != nil {
		slog.Error("Failed to persist error message", "session_id", sessionID, "error", err)
	} else {
		e.broker.Publish(sessionID, events.AgentMessage("Error: "+reason))
	}
	e.broker.Publish(sessionID, events.Error(reason))
}

// finish records the session's terminal status for this turn. The status
// write uses a fresh context: it must land even when the turn was cancelled.
func (e *Engine) finish(sessionID string, status domain.Status, log *slog.Logger, cause error) error {
	if err := e.store.UpdateSessionStatus(context.Background(), sessionID, status); err != nil {
		log.Error("Failed to update session status", "status", status, "error", err)
	}
	if cause != nil {
		log.Warn("Turn ended", "status", status, "cause", cause)
	} else {
		log.Info("Turn ended", "status", status)
	}
	return cause
}

// messageText joins a message's top-level text blocks.
func messageText(msg *domain.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == domain.BlockTypeText {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func historyToMessages(history []domain.Message) []model.Message {
	messages := make([]model.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, model.Message{Role: msg.Role, Blocks: msg.Content})
	}
	return messages
}
