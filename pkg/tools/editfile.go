package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/deskpilot/deskpilot/pkg/desktop"
	"github.com/deskpilot/deskpilot/pkg/domain"
)

// EditFile views, creates, and edits text files on the desktop.
type EditFile struct {
	desktop desktop.Desktop
}

func NewEditFile(d desktop.Desktop) *EditFile {
	return &EditFile{desktop: d}
}

func (t *EditFile) Name() string { return "edit_file" }

func (t *EditFile) Description() string {
	return "View, create, or edit a text file on the desktop. Use command=view to read a file with line numbers, command=create to write a new file, and command=str_replace to replace an exact string that occurs once in the file."
}

func (t *EditFile) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []any{"view", "create", "str_replace"},
				"description": "The operation to perform",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path of the file",
			},
			"file_text": map[string]any{
				"type":        "string",
				"description": "Full file content, for command=create",
			},
			"old_str": map[string]any{
				"type":        "string",
				"description": "Exact string to replace, for command=str_replace",
			},
			"new_str": map[string]any{
				"type":        "string",
				"description": "Replacement string, for command=str_replace",
			},
		},
		"required": []any{"command", "path"},
	}
}

func (t *EditFile) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	command, err := stringArg(input, "command")
	if err != nil {
		return nil, err
	}
	path, err := stringArg(input, "path")
	if err != nil {
		return nil, err
	}

	switch command {
	case "view":
		return t.view(ctx, path)
	case "create":
		return t.create(ctx, path, input)
	case "str_replace":
		return t.strReplace(ctx, path, input)
	default:
		return nil, fmt.Errorf("unknown edit command %q", command)
	}
}

func (t *EditFile) view(ctx context.Context, path string) (*Result, error) {
	data, err := t.desktop.ReadFile(ctx, path)
	if err != nil {
		return errResult(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}

	var sb strings.Builder
	for i, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	return textResult(sb.String()), nil
}

func (t *EditFile) create(ctx context.Context, path string, input map[string]any) (*Result, error) {
	text, err := stringArg(input, "file_text")
	if err != nil {
		return nil, err
	}
	if err := t.desktop.WriteFile(ctx, path, []byte(text)); err != nil {
		return errResult(fmt.Sprintf("cannot write %s: %v", path, err)), nil
	}
	return textResult(fmt.Sprintf("created %s (%d bytes)", path, len(text))), nil
}

func (t *EditFile) strReplace(ctx context.Context, path string, input map[string]any) (*Result, error) {
	oldStr, err := stringArg(input, "old_str")
	if err != nil {
		return nil, err
	}
	newStr, err := stringArg(input, "new_str")
	if err != nil {
		return nil, err
	}

	data, err := t.desktop.ReadFile(ctx, path)
	if err != nil {
		return errResult(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}

	content := string(data)
	switch n := strings.Count(content, oldStr); n {
	case 0:
		return errResult(fmt.Sprintf("old_str not found in %s", path)), nil
	case 1:
		// ok
	default:
		return errResult(fmt.Sprintf("old_str occurs %d times in %s, must be unique", n, path)), nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := t.desktop.WriteFile(ctx, path, []byte(updated)); err != nil {
		return errResult(fmt.Sprintf("cannot write %s: %v", path, err)), nil
	}
	return textResult(fmt.Sprintf("replaced 1 occurrence in %s", path)), nil
}

func textResult(s string) *Result {
	return &Result{Content: []domain.ContentBlock{domain.NewTextBlock(s)}}
}

func errResult(s string) *Result {
	return &Result{IsError: true, Content: []domain.ContentBlock{domain.NewTextBlock(s)}}
}
