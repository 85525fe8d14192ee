package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/deskpilot/deskpilot/pkg/desktop"
	"github.com/deskpilot/deskpilot/pkg/domain"
)

// captureCommand grabs the root window from the X server and converts the
// dump to PNG on stdout.
const captureCommand = "xwd -root -silent | convert xwd:- png:-"

// CaptureScreen takes a screenshot of the desktop's display and returns it as
// a base64 PNG image block.
type CaptureScreen struct {
	desktop desktop.Desktop
}

func NewCaptureScreen(d desktop.Desktop) *CaptureScreen {
	return &CaptureScreen{desktop: d}
}

func (t *CaptureScreen) Name() string { return "capture_screen" }

func (t *CaptureScreen) Description() string {
	return "Capture a screenshot of the current desktop screen. Returns the screen contents as a PNG image. Use this to see the current state of the desktop before and after taking actions."
}

func (t *CaptureScreen) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *CaptureScreen) Execute(ctx context.Context, _ map[string]any) (*Result, error) {
	out, err := t.desktop.Run(ctx, captureCommand)
	if err != nil {
		return nil, fmt.Errorf("capturing screen: %w", err)
	}
	if out.ExitCode != 0 {
		return &Result{
			IsError: true,
			Content: []domain.ContentBlock{domain.NewTextBlock(
				fmt.Sprintf("screenshot failed (exit %d): %s", out.ExitCode, strings.TrimSpace(string(out.Stderr))),
			)},
		}, nil
	}
	if len(out.Stdout) == 0 {
		return &Result{
			IsError: true,
			Content: []domain.ContentBlock{domain.NewTextBlock("screenshot produced no image data")},
		}, nil
	}

	encoded := base64.StdEncoding.EncodeToString(out.Stdout)
	return &Result{
		Content: []domain.ContentBlock{domain.NewImageBlock("image/png", encoded)},
	}, nil
}
