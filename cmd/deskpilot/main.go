package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/deskpilot/deskpilot/pkg/config"
	"github.com/deskpilot/deskpilot/pkg/desktop"
	dockerdesktop "github.com/deskpilot/deskpilot/pkg/desktop/docker"
	"github.com/deskpilot/deskpilot/pkg/engine"
	"github.com/deskpilot/deskpilot/pkg/events"
	"github.com/deskpilot/deskpilot/pkg/model/anthropic"
	"github.com/deskpilot/deskpilot/pkg/registry"
	"github.com/deskpilot/deskpilot/pkg/server"
	"github.com/deskpilot/deskpilot/pkg/store/sqlite"
	"github.com/deskpilot/deskpilot/pkg/tools"
)

func main() {
	// Setup logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize store.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("Failed to create data directory", "path", filepath.Dir(cfg.DBPath), "error", err)
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model provider.
	provider, err := anthropic.New(anthropic.Config{APIKey: cfg.AnthropicAPIKey})
	if err != nil {
		slog.Error("Failed to initialize model provider", "error", err)
		os.Exit(1)
	}

	// Initialize the desktop backend.
	var desk desktop.Desktop
	switch cfg.Desktop {
	case config.DesktopDocker:
		desk, err = dockerdesktop.New(cfg.DesktopContainer, cfg.DesktopDisplay)
		if err != nil {
			slog.Error("Failed to initialize docker desktop", "error", err)
			os.Exit(1)
		}
	default:
		desk = desktop.NewLocal(cfg.DesktopDisplay)
	}

	dispatcher := tools.NewDispatcher(cfg.ToolTimeout,
		tools.NewCaptureScreen(desk),
		tools.NewRunCommand(desk),
		tools.NewEditFile(desk),
	)

	broker := events.NewBroker(cfg.EventQueueSize)
	eng := engine.New(store, provider, dispatcher, broker, engine.Config{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		MaxTurns:  cfg.MaxToolTurns,
	})
	reg := registry.New(eng)

	srv := server.New(store, reg, broker)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	go func() {
		slog.Info("Server listening", "port", cfg.Port, "desktop", cfg.Desktop, "model", cfg.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	reg.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
