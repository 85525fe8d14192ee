// Package docker runs desktop commands inside a long-lived container via the
// Docker exec API.
package docker

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/deskpilot/deskpilot/pkg/desktop"
)

// Desktop executes commands inside a named container. The container is
// expected to already be running with an X server on the configured display.
type Desktop struct {
	cli         *client.Client
	containerID string
	display     string
}

var _ desktop.Desktop = (*Desktop)(nil)

// New connects to the Docker daemon from the environment and targets the
// given container.
func New(containerID, display string) (*Desktop, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Desktop{cli: cli, containerID: containerID, display: display}, nil
}

func (d *Desktop) Run(ctx context.Context, command string) (*desktop.Output, error) {
	return d.exec(ctx, command, nil)
}

func (d *Desktop) ReadFile(ctx context.Context, path string) ([]byte, error) {
	// base64 keeps binary content intact across the exec stream.
	out, err := d.exec(ctx, fmt.Sprintf("base64 < %s", shellQuote(path)), nil)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("reading %s: %s", path, strings.TrimSpace(string(out.Stderr)))
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(out.Stdout), "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return data, nil
}

func (d *Desktop) WriteFile(ctx context.Context, path string, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("mkdir -p $(dirname %s) && base64 -d > %s", shellQuote(path), shellQuote(path))
	out, err := d.exec(ctx, cmd, strings.NewReader(encoded))
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("writing %s: %s", path, strings.TrimSpace(string(out.Stderr)))
	}
	return nil
}

func (d *Desktop) exec(ctx context.Context, command string, stdin *strings.Reader) (*desktop.Output, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		Env:          []string{"DISPLAY=" + d.display},
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
	}

	resp, err := d.cli.ContainerExecCreate(ctx, d.containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("create exec in container %s: %w", d.containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}
	defer attach.Close()

	if stdin != nil {
		if _, err := stdin.WriteTo(attach.Conn); err != nil {
			return nil, fmt.Errorf("write exec stdin: %w", err)
		}
		if err := attach.CloseWrite(); err != nil {
			return nil, fmt.Errorf("close exec stdin: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("command interrupted: %w", ctx.Err())
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}

	return &desktop.Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// shellQuote single-quotes a path for sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
