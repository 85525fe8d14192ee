package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Local runs commands directly on the host via sh -c, pointing DISPLAY at the
// host's X server so screenshot tooling works.
type Local struct {
	display string
}

var _ Desktop = (*Local)(nil)

// NewLocal creates a host-backed desktop. display is the X display to export
// to commands, e.g. ":1".
func NewLocal(display string) *Local {
	return &Local{display: display}
}

func (l *Local) Run(ctx context.Context, command string) (*Output, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), "DISPLAY="+l.display)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("running command: %w", err)
	}
	return out, nil
}

func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (l *Local) WriteFile(_ context.Context, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
