// Package tools defines the agent's tool surface and the dispatcher that
// executes model-requested tool calls.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskpilot/deskpilot/pkg/domain"
	"github.com/deskpilot/deskpilot/pkg/model"
)

// ErrUnknownTool is returned when the model requests a tool that is not
// registered. The dispatcher converts it into an error tool_result rather
// than failing the loop.
var ErrUnknownTool = errors.New("unknown tool")

const defaultTimeout = 30 * time.Second

// Result is the outcome of a tool execution.
type Result struct {
	Content []domain.ContentBlock
	IsError bool
}

// Tool is a single capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (*Result, error)
}

// Dispatcher routes tool_use blocks to registered tools, enforcing a
// per-call timeout. Every dispatch yields a tool_result block; failures are
// reported to the model as error results, never as loop failures.
type Dispatcher struct {
	tools   map[string]Tool
	ordered []Tool
	timeout time.Duration
}

// NewDispatcher registers the given tools. timeout <= 0 selects the default.
func NewDispatcher(timeout time.Duration, tools ...Tool) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Dispatcher{
		tools:   make(map[string]Tool, len(tools)),
		ordered: tools,
		timeout: timeout,
	}
	for _, t := range tools {
		d.tools[t.Name()] = t
	}
	return d
}

// Specs returns the tool definitions advertised to the model, in
// registration order.
func (d *Dispatcher) Specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(d.ordered))
	for _, t := range d.ordered {
		specs = append(specs, model.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return specs
}

// Dispatch executes one tool_use block and returns the matching tool_result
// block. The result always carries the request's tool_use id.
func (d *Dispatcher) Dispatch(ctx context.Context, call domain.ContentBlock) domain.ContentBlock {
	tool, ok := d.tools[call.Name]
	if !ok {
		slog.Warn("Unknown tool requested", "tool", call.Name, "tool_use_id", call.ID)
		return errorResult(call.ID, fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name))
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(execCtx, call.Input)
	elapsed := time.Since(start)

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		slog.Warn("Tool timed out", "tool", call.Name, "timeout", d.timeout)
		return errorResult(call.ID, fmt.Sprintf("tool %s timed out after %s", call.Name, d.timeout))
	case err != nil:
		slog.Error("Tool failed", "tool", call.Name, "error", err, "duration", elapsed)
		return errorResult(call.ID, fmt.Sprintf("tool %s failed: %v", call.Name, err))
	}

	slog.Debug("Tool executed", "tool", call.Name, "duration", elapsed, "is_error", result.IsError)
	return domain.NewToolResultBlock(call.ID, result.IsError, result.Content)
}

func errorResult(toolUseID, msg string) domain.ContentBlock {
	return domain.NewToolResultBlock(toolUseID, true, []domain.ContentBlock{domain.NewTextBlock(msg)})
}

// stringArg extracts a required string field from tool input.
func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}
