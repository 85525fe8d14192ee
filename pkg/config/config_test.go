package config

import (
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxToolTurns != 25 {
		t.Errorf("MaxToolTurns = %d", cfg.MaxToolTurns)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.ToolTimeout)
	}
	if cfg.Desktop != DesktopLocal {
		t.Errorf("Desktop = %q", cfg.Desktop)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("expected error without API key")
	}
}

func TestDockerModeRequiresContainer(t *testing.T) {
	setBase(t)
	t.Setenv("DESKTOP", "docker")

	if _, err := Load(); err == nil {
		t.Error("expected error without DESKTOP_CONTAINER")
	}

	t.Setenv("DESKTOP_CONTAINER", "desktop-1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Desktop != DesktopDocker || cfg.DesktopContainer != "desktop-1" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestInvalidDesktopMode(t *testing.T) {
	setBase(t)
	t.Setenv("DESKTOP", "cloud")

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown DESKTOP mode")
	}
}

func TestEnvOverridesAndBadValuesFallBack(t *testing.T) {
	setBase(t)
	t.Setenv("MAX_TOOL_TURNS", "5")
	t.Setenv("TOOL_TIMEOUT", "2m")
	t.Setenv("MAX_TOKENS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxToolTurns != 5 {
		t.Errorf("MaxToolTurns = %d", cfg.MaxToolTurns)
	}
	if cfg.ToolTimeout != 2*time.Minute {
		t.Errorf("ToolTimeout = %v", cfg.ToolTimeout)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want default on parse failure", cfg.MaxTokens)
	}
}
