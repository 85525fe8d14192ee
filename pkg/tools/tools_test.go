package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/deskpilot/deskpilot/pkg/desktop"
	"github.com/deskpilot/deskpilot/pkg/domain"
)

// fakeDesktop scripts command results and keeps files in memory.
type fakeDesktop struct {
	runFn func(ctx context.Context, command string) (*desktop.Output, error)
	files map[string][]byte
}

func newFakeDesktop() *fakeDesktop {
	return &fakeDesktop{files: map[string][]byte{}}
}

func (f *fakeDesktop) Run(ctx context.Context, command string) (*desktop.Output, error) {
	if f.runFn != nil {
		return f.runFn(ctx, command)
	}
	return &desktop.Output{}, nil
}

func (f *fakeDesktop) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (f *fakeDesktop) WriteFile(_ context.Context, path string, data []byte) error {
	f.files[path] = data
	return nil
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(time.Second)

	result := d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-1", "launch_rocket", nil))
	if !result.IsError {
		t.Error("expected error result for unknown tool")
	}
	if result.ToolUseID != "tu-1" {
		t.Errorf("ToolUseID = %q, want tu-1", result.ToolUseID)
	}
	if !strings.Contains(result.Content[0].Text, "unknown tool") {
		t.Errorf("unexpected message: %q", result.Content[0].Text)
	}
}

func TestDispatchTimeout(t *testing.T) {
	fd := newFakeDesktop()
	fd.runFn = func(ctx context.Context, _ string) (*desktop.Output, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d := NewDispatcher(20*time.Millisecond, NewRunCommand(fd))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "run_command", map[string]any{"command": "sleep 60"}))
	if !result.IsError {
		t.Error("expected error result on timeout")
	}
	if !strings.Contains(result.Content[0].Text, "timed out") {
		t.Errorf("unexpected message: %q", result.Content[0].Text)
	}
}

func TestRunCommandOutput(t *testing.T) {
	fd := newFakeDesktop()
	fd.runFn = func(_ context.Context, command string) (*desktop.Output, error) {
		if command != "ls /tmp" {
			t.Errorf("command = %q", command)
		}
		return &desktop.Output{Stdout: []byte("a.txt\nb.txt\n")}, nil
	}
	d := NewDispatcher(time.Second, NewRunCommand(fd))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "run_command", map[string]any{"command": "ls /tmp"}))
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if !strings.Contains(result.Content[0].Text, "a.txt") {
		t.Errorf("stdout missing from result: %q", result.Content[0].Text)
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	fd := newFakeDesktop()
	fd.runFn = func(_ context.Context, _ string) (*desktop.Output, error) {
		return &desktop.Output{Stderr: []byte("not found"), ExitCode: 127}, nil
	}
	d := NewDispatcher(time.Second, NewRunCommand(fd))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "run_command", map[string]any{"command": "nope"}))
	if !result.IsError {
		t.Error("expected error result for non-zero exit")
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "exit code: 127") || !strings.Contains(text, "not found") {
		t.Errorf("result text = %q", text)
	}
}

func TestRunCommandMissingArgument(t *testing.T) {
	d := NewDispatcher(time.Second, NewRunCommand(newFakeDesktop()))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "run_command", map[string]any{}))
	if !result.IsError {
		t.Error("expected error result for missing argument")
	}
}

func TestCaptureScreenReturnsImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	fd := newFakeDesktop()
	fd.runFn = func(_ context.Context, command string) (*desktop.Output, error) {
		if !strings.Contains(command, "xwd") {
			t.Errorf("command = %q", command)
		}
		return &desktop.Output{Stdout: png}, nil
	}
	d := NewDispatcher(time.Second, NewCaptureScreen(fd))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "capture_screen", nil))
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	img := result.Content[0]
	if img.Type != domain.BlockTypeImage || img.Source == nil {
		t.Fatalf("expected image block, got %+v", img)
	}
	if img.Source.MediaType != "image/png" {
		t.Errorf("media type = %q", img.Source.MediaType)
	}
	decoded, err := base64.StdEncoding.DecodeString(img.Source.Data)
	if err != nil || string(decoded) != string(png) {
		t.Errorf("image data corrupted: %v", err)
	}
}

func TestCaptureScreenFailure(t *testing.T) {
	fd := newFakeDesktop()
	fd.runFn = func(_ context.Context, _ string) (*desktop.Output, error) {
		return &desktop.Output{Stderr: []byte("cannot open display"), ExitCode: 1}, nil
	}
	d := NewDispatcher(time.Second, NewCaptureScreen(fd))

	result := d.Dispatch(context.Background(),
		domain.NewToolUseBlock("tu-1", "capture_screen", nil))
	if !result.IsError {
		t.Error("expected error result when xwd fails")
	}
	if !strings.Contains(result.Content[0].Text, "cannot open display") {
		t.Errorf("stderr missing: %q", result.Content[0].Text)
	}
}

func TestEditFileCreateAndView(t *testing.T) {
	fd := newFakeDesktop()
	d := NewDispatcher(time.Second, NewEditFile(fd))

	result := d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-1", "edit_file", map[string]any{
		"command": "create", "path": "/tmp/a.txt", "file_text": "one\ntwo",
	}))
	if result.IsError {
		t.Fatalf("create failed: %+v", result)
	}
	if string(fd.files["/tmp/a.txt"]) != "one\ntwo" {
		t.Errorf("file content = %q", fd.files["/tmp/a.txt"])
	}

	result = d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-2", "edit_file", map[string]any{
		"command": "view", "path": "/tmp/a.txt",
	}))
	if result.IsError {
		t.Fatalf("view failed: %+v", result)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "1\tone") || !strings.Contains(text, "2\ttwo") {
		t.Errorf("view output = %q", text)
	}
}

func TestEditFileStrReplace(t *testing.T) {
	fd := newFakeDesktop()
	fd.files["/tmp/a.txt"] = []byte("hello world")
	d := NewDispatcher(time.Second, NewEditFile(fd))

	result := d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-1", "edit_file", map[string]any{
		"command": "str_replace", "path": "/tmp/a.txt", "old_str": "world", "new_str": "desktop",
	}))
	if result.IsError {
		t.Fatalf("str_replace failed: %+v", result)
	}
	if string(fd.files["/tmp/a.txt"]) != "hello desktop" {
		t.Errorf("file content = %q", fd.files["/tmp/a.txt"])
	}
}

func TestEditFileStrReplaceRequiresUniqueMatch(t *testing.T) {
	fd := newFakeDesktop()
	fd.files["/tmp/a.txt"] = []byte("aaa aaa")
	d := NewDispatcher(time.Second, NewEditFile(fd))

	result := d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-1", "edit_file", map[string]any{
		"command": "str_replace", "path": "/tmp/a.txt", "old_str": "aaa", "new_str": "bbb",
	}))
	if !result.IsError {
		t.Error("expected error for ambiguous old_str")
	}
	if string(fd.files["/tmp/a.txt"]) != "aaa aaa" {
		t.Error("file must be unchanged on ambiguous replace")
	}

	result = d.Dispatch(context.Background(), domain.NewToolUseBlock("tu-2", "edit_file", map[string]any{
		"command": "str_replace", "path": "/tmp/a.txt", "old_str": "zzz", "new_str": "bbb",
	}))
	if !result.IsError {
		t.Error("expected error for missing old_str")
	}
}

func TestSpecsMatchRegistrationOrder(t *testing.T) {
	fd := newFakeDesktop()
	d := NewDispatcher(time.Second, NewCaptureScreen(fd), NewRunCommand(fd), NewEditFile(fd))

	specs := d.Specs()
	want := []string{"capture_screen", "run_command", "edit_file"}
	if len(specs) != len(want) {
		t.Fatalf("specs len = %d, want %d", len(specs), len(want))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Errorf("specs[%d].Name = %q, want %q", i, specs[i].Name, name)
		}
		if specs[i].InputSchema["type"] != "object" {
			t.Errorf("specs[%d] schema type = %v", i, specs[i].InputSchema["type"])
		}
	}
}
