package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Channel Commands
// =============================================================================

// addClientFlags registers the flags used to reach a running server.
func addClientFlags(cmd *cobra.Command, flags *clientFlags) {
	cmd.PersistentFlags().StringVar(&flags.server, "server", "", "Server base URL (default $UNIBOX_SERVER or "+defaultServerURL+")")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Bearer token or API key (default $UNIBOX_TOKEN)")
}

// buildChannelsCmd creates the "channels" command group.
func buildChannelsCmd() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage connected channels",
		Long: `List, connect and disconnect the messaging accounts feeding your inbox.

Slack and Discord connect through their OAuth consent screens. Other channel
types are added by name and stay disconnected until an integration syncs them.`,
	}
	addClientFlags(cmd, flags)

	cmd.AddCommand(
		buildChannelsListCmd(flags),
		buildChannelsConnectCmd(flags),
		buildChannelsAddCmd(flags),
		buildChannelsDisconnectCmd(flags),
	)
	return cmd
}

func buildChannelsListCmd(flags *clientFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List connected channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsList(cmd, flags, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func buildChannelsConnectCmd(flags *clientFlags) *cobra.Command {
	var (
		noBrowser bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "connect <slack|discord>",
		Short: "Connect a channel through OAuth",
		Long: `Open the provider consent screen and wait for the authorization to finish.

The provider redirects back to the server's callback page, which relays the
result to this command. With --no-browser the authorization URL is printed
instead of opened.`,
		Example: `  # Connect a Slack workspace
  unibox channels connect slack

  # Connect Discord from a remote shell
  unibox channels connect discord --no-browser`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsConnect(cmd, flags, args[0], noBrowser, timeout)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for authorization")
	return cmd
}

func buildChannelsAddCmd(flags *clientFlags) *cobra.Command {
	var accessToken string
	cmd := &cobra.Command{
		Use:   "add <type> [display-name]",
		Short: "Add a channel by name",
		Example: `  # Track a mail account
  unibox channels add gmail "Work mail"

  # Add Slack with an existing bot token
  unibox channels add slack --access-token xoxb-...`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			return runChannelsAdd(cmd, flags, args[0], name, accessToken)
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token for the channel")
	return cmd
}

func buildChannelsDisconnectCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect <id>",
		Aliases: []string{"rm"},
		Short:   "Disconnect a channel",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelsDisconnect(cmd, flags, args[0])
		},
	}
}
