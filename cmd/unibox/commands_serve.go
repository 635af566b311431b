package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/config"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the inbox server.
func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inbox API and OAuth relay",
		Long: `Run the unibox HTTP server in the foreground.

State lives in Postgres when database.url is set and in memory otherwise.
Besides the inbox API the server exposes the OAuth code exchange, the
provider callback page and the relay socket that forwards callback results
to waiting clients. With sync.enabled the channel sync job runs on
sync.schedule.

SIGINT or SIGTERM drains open requests before exiting.`,
		Example: `  unibox serve
  unibox serve -c /etc/unibox/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigName, "YAML or JSON5 config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Log at debug level regardless of logging.level")
	return cmd
}
