package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/deskpilot/deskpilot/pkg/desktop"
	"github.com/deskpilot/deskpilot/pkg/domain"
)

// outputLimit caps how much command output is fed back to the model.
const outputLimit = 16 * 1024

// RunCommand executes a shell command on the desktop and reports its output
// and exit code.
type RunCommand struct {
	desktop desktop.Desktop
}

func NewRunCommand(d desktop.Desktop) *RunCommand {
	return &RunCommand{desktop: d}
}

func (t *RunCommand) Name() string { return "run_command" }

func (t *RunCommand) Description() string {
	return "Run a shell command on the desktop and return its stdout, stderr, and exit code. Commands run with sh -c and inherit the desktop's display."
}

func (t *RunCommand) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []any{"command"},
	}
}

func (t *RunCommand) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	command, err := stringArg(input, "command")
	if err != nil {
		return nil, err
	}

	out, err := t.desktop.Run(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("running command: %w", err)
	}

	var sb strings.Builder
	if len(out.Stdout) > 0 {
		sb.Write(truncate(out.Stdout))
	}
	if len(out.Stderr) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr: ")
		sb.Write(truncate(out.Stderr))
	}
	if out.ExitCode != 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "exit code: %d", out.ExitCode)
	}
	if sb.Len() == 0 {
		sb.WriteString("(no output)")
	}

	return &Result{
		IsError: out.ExitCode != 0,
		Content: []domain.ContentBlock{domain.NewTextBlock(sb.String())},
	}, nil
}

func truncate(b []byte) []byte {
	if len(b) <= outputLimit {
		return b
	}
	return append(b[:outputLimit:outputLimit], []byte("\n... (output truncated)")...)
}
