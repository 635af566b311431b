package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/unibox/internal/server"
)

// =============================================================================
// Serve Command Handlers
// =============================================================================

// runServe starts the server and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	srv, err := server.New(server.Options{
		Config:  cfg,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting unibox",
		"version", version,
		"commit", commit,
		"addr", cfg.Server.Addr(),
		"public_url", cfg.Server.PublicURL,
		"sync", cfg.Sync.Enabled,
	)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
