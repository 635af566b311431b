// Package main provides the CLI entry point for unibox, a unified inbox
// for Slack, Discord and other messaging channels.
//
// # Basic Usage
//
// Start the server:
//
//	unibox serve --config unibox.yaml
//
// Connect a channel and read messages:
//
//	unibox channels connect slack
//	unibox messages list --view unread
//
// Manage database migrations:
//
//	unibox migrate up
//	unibox migrate status
//
// # Environment Variables
//
//   - UNIBOX_CONFIG: Path to configuration file (default: unibox.yaml)
//   - UNIBOX_PROFILE: Named profile under ~/.unibox/profiles
//   - UNIBOX_SERVER: Base URL used by client commands
//   - UNIBOX_TOKEN: Bearer token or API key used by client commands
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/config"
	"github.com/haasonsaas/unibox/internal/observability"
	"github.com/haasonsaas/unibox/internal/storage"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"
	commit      = "none"
	date        = "unknown"
	profileName string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "unibox",
		Short: "unibox - unified inbox for your messaging channels",
		Long: `unibox collects messages from Slack, Discord and other channels into one inbox.

Connect accounts with OAuth, sync their recent messages, then read, star,
archive and reply from a single place.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (uses ~/.unibox/profiles/<name>.yaml; or set UNIBOX_PROFILE)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildChannelsCmd(),
		buildMessagesCmd(),
		buildSyncCmd(),
		buildTokenCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "unibox %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}

func resolveConfigPath(path string) string {
	activeProfile := strings.TrimSpace(profileName)
	if activeProfile == "" {
		activeProfile = strings.TrimSpace(os.Getenv("UNIBOX_PROFILE"))
	}
	if activeProfile != "" {
		return config.ProfilePath(activeProfile)
	}
	if strings.TrimSpace(path) == "" || path == config.DefaultConfigName {
		return config.DefaultPath()
	}
	return path
}

// loadConfig reads the config at path. A missing default file yields the
// built-in defaults so the server can start with zero setup.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultConfigName {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
}

func openMigrationDB(cfg *config.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.Database.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool := storage.DefaultPostgresConfig()
	if cfg.Database.MaxConnections > 0 {
		pool.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	return storage.OpenPostgres(cfg.Database.URL, pool)
}
