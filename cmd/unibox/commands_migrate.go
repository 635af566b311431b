package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/config"
)

// =============================================================================
// Migration Commands
// =============================================================================

// buildMigrateCmd groups the schema migration subcommands.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
		Long: `Keep the Postgres schema in step with this unibox binary.

The SQL files ship inside the binary. They run in numeric order and each
applied version is recorded in the schema_migrations table.`,
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func addMigrateConfigFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "config", "c", config.DefaultConfigName, "Config file holding database.url")
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	var steps int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Example: `  unibox migrate up
  unibox migrate up --steps 1 --config prod.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath, steps)
		},
	}
	addMigrateConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "Stop after this many migrations; 0 applies everything pending")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var configPath string
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the newest applied migrations",
		Long: `Revert applied migrations, newest first.

Down migrations drop the tables they created, so stored channels and
messages go with them.`,
		Example: `  unibox migrate down
  unibox migrate down -n 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, configPath, steps)
		},
	}
	addMigrateConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "How many applied migrations to revert")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List embedded migrations and when each was applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}
	addMigrateConfigFlag(cmd, &configPath)
	return cmd
}
