package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/api"
	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/pkg/models"
)

// =============================================================================
// Message Command Handlers
// =============================================================================

type messageAction int

const (
	actionRead messageAction = iota
	actionArchive
	actionStar
	actionUnstar
)

func (a messageAction) String() string {
	switch a {
	case actionRead:
		return "Marked read"
	case actionArchive:
		return "Archived"
	case actionStar:
		return "Starred"
	case actionUnstar:
		return "Unstarred"
	default:
		return "Updated"
	}
}

func (o *listOptions) params() url.Values {
	params := url.Values{}
	if o.view != "" && o.view != string(inbox.ViewAll) {
		params.Set("view", o.view)
	}
	if o.channel != "" {
		params.Set("channel", o.channel)
	}
	if o.search != "" {
		params.Set("q", o.search)
	}
	if o.limit > 0 {
		params.Set("limit", strconv.Itoa(o.limit))
	}
	return params
}

func runMessagesList(cmd *cobra.Command, flags *clientFlags, opts *listOptions) error {
	if _, err := inbox.ParseView(opts.view); err != nil {
		return err
	}
	msgs, err := flags.client().listMessages(cmd.Context(), opts.params())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if opts.asJSON {
		return writeJSONOutput(out, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLAGS\tFROM\tRECEIVED\tMESSAGE")
	for i := range msgs {
		msg := &msgs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", msg.ID, messageFlags(msg), msg.SenderName, humanize.Time(msg.CreatedAt), preview(msg.Content, 80))
	}
	return w.Flush()
}

func runMessagesThreads(cmd *cobra.Command, flags *clientFlags, opts *listOptions) error {
	if _, err := inbox.ParseView(opts.view); err != nil {
		return err
	}
	threads, err := flags.client().listThreads(cmd.Context(), opts.params())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if opts.asJSON {
		return writeJSONOutput(out, threads)
	}
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads.")
		return nil
	}
	printThreads(out, threads)
	return nil
}

func printThreads(out io.Writer, threads []inbox.Thread) {
	for _, thread := range threads {
		root := thread.Root
		fmt.Fprintf(out, "%s %s  %s  (%s)\n", messageFlags(root), root.SenderName, preview(root.Content, 80), humanize.Time(root.CreatedAt))
		for _, reply := range thread.Replies {
			fmt.Fprintf(out, "    └ %s: %s\n", reply.SenderName, preview(reply.Content, 72))
		}
		if n := len(thread.Replies); n > 0 {
			fmt.Fprintf(out, "    %s\n", english.Plural(n, "reply", "replies"))
		}
	}
}

func runMessagesShow(cmd *cobra.Command, flags *clientFlags, id string) error {
	msg, err := flags.client().getMessage(cmd.Context(), id)
	if err != nil {
		return err
	}
	printMessage(cmd.OutOrStdout(), msg)
	return nil
}

func printMessage(out io.Writer, msg *models.Message) {
	fmt.Fprintf(out, "From:     %s\n", msg.SenderName)
	fmt.Fprintf(out, "Channel:  %s (%s)\n", msg.ChannelID, msg.ChannelType)
	fmt.Fprintf(out, "Received: %s (%s)\n", msg.CreatedAt.Local().Format("2006-01-02 15:04"), humanize.Time(msg.CreatedAt))
	fmt.Fprintf(out, "Status:   %s\n", msg.Status)
	if msg.Starred {
		fmt.Fprintln(out, "Starred:  yes")
	}
	if msg.ParentID != "" {
		fmt.Fprintf(out, "Reply to: %s\n", msg.ParentID)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, msg.Content)
	if len(msg.Attachments) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Attachments:")
		for _, a := range msg.Attachments {
			size := ""
			if a.Size > 0 {
				size = " (" + humanize.Bytes(uint64(a.Size)) + ")"
			}
			fmt.Fprintf(out, "  - %s%s %s\n", a.Name, size, a.URL)
		}
	}
}

func runMessageAction(cmd *cobra.Command, flags *clientFlags, id string, action messageAction) error {
	client := flags.client()
	var (
		msg *models.Message
		err error
	)
	switch action {
	case actionRead:
		msg, err = client.messageAction(cmd.Context(), http.MethodPost, id, "read", nil)
	case actionArchive:
		msg, err = client.messageAction(cmd.Context(), http.MethodPost, id, "archive", nil)
	case actionStar:
		msg, err = client.messageAction(cmd.Context(), http.MethodPost, id, "star", nil)
	case actionUnstar:
		msg, err = client.messageAction(cmd.Context(), http.MethodDelete, id, "star", nil)
	default:
		return fmt.Errorf("unknown action %d", action)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", action, msg.ID, msg.Status)
	return nil
}

func runMessagesReply(cmd *cobra.Command, flags *clientFlags, id, content string) error {
	reply, err := flags.client().messageAction(cmd.Context(), http.MethodPost, id, "reply", api.ReplyRequest{Content: content})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Replied as %s, id %s\n", reply.SenderName, reply.ID)
	return nil
}

func runSync(cmd *cobra.Command, flags *clientFlags) error {
	report, err := flags.client().sync(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Synced %s: %s new, %d already stored\n",
		english.Plural(report.Channels, "channel", "channels"),
		humanize.Comma(int64(report.Ingested)),
		report.Skipped,
	)
	if report.Failed > 0 {
		fmt.Fprintf(out, "%d failed:\n", report.Failed)
		for _, e := range report.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	return nil
}

func messageFlags(msg *models.Message) string {
	var b strings.Builder
	switch msg.Status {
	case models.StatusUnread:
		b.WriteByte('*')
	case models.StatusArchived:
		b.WriteByte('a')
	default:
		b.WriteByte(' ')
	}
	if msg.Starred {
		b.WriteByte('s')
	} else {
		b.WriteByte(' ')
	}
	return b.String()
}

// preview flattens content to one line of at most n runes.
func preview(content string, n int) string {
	line := strings.Join(strings.Fields(content), " ")
	runes := []rune(line)
	if len(runes) <= n {
		return line
	}
	return string(runes[:n-1]) + "…"
}
