// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DesktopMode selects where agent commands execute.
type DesktopMode string

const (
	DesktopLocal  DesktopMode = "local"
	DesktopDocker DesktopMode = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	AnthropicAPIKey string
	Model           string
	MaxTokens       int
	MaxToolTurns    int

	ToolTimeout    time.Duration
	EventQueueSize int

	Desktop          DesktopMode
	DesktopContainer string
	DesktopDisplay   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/deskpilot.db"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		Model:            getEnv("AGENT_MODEL", "claude-sonnet-4-20250514"),
		MaxTokens:        getEnvInt("MAX_TOKENS", 4096),
		MaxToolTurns:     getEnvInt("MAX_TOOL_TURNS", 25),
		ToolTimeout:      getEnvDuration("TOOL_TIMEOUT", 30*time.Second),
		EventQueueSize:   getEnvInt("EVENT_QUEUE_SIZE", 64),
		Desktop:          DesktopMode(getEnv("DESKTOP", string(DesktopLocal))),
		DesktopContainer: getEnv("DESKTOP_CONTAINER", ""),
		DesktopDisplay:   getEnv("DESKTOP_DISPLAY", ":1"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be > 0")
	}
	if c.MaxToolTurns <= 0 {
		return fmt.Errorf("MAX_TOOL_TURNS must be > 0")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be > 0")
	}
	switch c.Desktop {
	case DesktopLocal:
	case DesktopDocker:
		if c.DesktopContainer == "" {
			return fmt.Errorf("DESKTOP_CONTAINER is required when DESKTOP=docker")
		}
	default:
		return fmt.Errorf("DESKTOP must be %q or %q", DesktopLocal, DesktopDocker)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
