package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Message Commands
// =============================================================================

// listOptions mirror the /api/messages query parameters.
type listOptions struct {
	view    string
	channel string
	search  string
	limit   int
	asJSON  bool
}

func addListFlags(cmd *cobra.Command, opts *listOptions) {
	cmd.Flags().StringVar(&opts.view, "view", "all", "View: all, unread, starred or archived")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "Only messages from this channel id")
	cmd.Flags().StringVarP(&opts.search, "query", "q", "", "Case-insensitive search over sender and content")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "Maximum messages to show")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")
}

// buildMessagesCmd creates the "messages" command group.
func buildMessagesCmd() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "Read and triage inbox messages",
	}
	addClientFlags(cmd, flags)

	cmd.AddCommand(
		buildMessagesListCmd(flags),
		buildMessagesThreadsCmd(flags),
		buildMessagesShowCmd(flags),
		buildMessageActionCmd(flags, "read <id>", "Mark a message read", actionRead),
		buildMessageActionCmd(flags, "archive <id>", "Archive a message", actionArchive),
		buildMessageActionCmd(flags, "star <id>", "Star a message", actionStar),
		buildMessageActionCmd(flags, "unstar <id>", "Remove a star", actionUnstar),
		buildMessagesReplyCmd(flags),
	)
	return cmd
}

func buildMessagesListCmd(flags *clientFlags) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List messages, newest first",
		Example: `  # Unread messages
  unibox messages list --view unread

  # Search one channel
  unibox messages list --channel 7f1c... -q deploy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessagesList(cmd, flags, opts)
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

func buildMessagesThreadsCmd(flags *clientFlags) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List messages grouped into threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessagesThreads(cmd, flags, opts)
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

func buildMessagesShowCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessagesShow(cmd, flags, args[0])
		},
	}
}

func buildMessageActionCmd(flags *clientFlags, use, short string, action messageAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessageAction(cmd, flags, args[0], action)
		},
	}
}

func buildMessagesReplyCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <id> <text...>",
		Short: "Reply to a message",
		Long: `Post a reply in the thread of a message.

The reply is stored in the inbox and the parent is marked read.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessagesReply(cmd, flags, args[0], strings.Join(args[1:], " "))
		},
	}
}

// =============================================================================
// Sync Command
// =============================================================================

func buildSyncCmd() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull recent messages from every connected channel now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}
