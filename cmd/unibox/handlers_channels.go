package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/connect"
	"github.com/haasonsaas/unibox/internal/oauth"
	"github.com/haasonsaas/unibox/internal/relay"
	"github.com/haasonsaas/unibox/pkg/models"
)

// =============================================================================
// Channel Command Handlers
// =============================================================================

func runChannelsList(cmd *cobra.Command, flags *clientFlags, asJSON bool) error {
	conns, err := flags.client().listChannels(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSONOutput(out, conns)
	}
	if len(conns) == 0 {
		fmt.Fprintln(out, "No channels connected.")
		return nil
	}
	printChannels(out, conns)
	return nil
}

func printChannels(out io.Writer, conns []models.ChannelConnection) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tCONNECTED\tLAST SYNC")
	for _, conn := range conns {
		lastSync := "never"
		if conn.LastSyncAt != nil {
			lastSync = humanize.Time(*conn.LastSyncAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", conn.ID, conn.ChannelType, conn.DisplayName, conn.Connected, lastSync)
	}
	_ = w.Flush()
}

func runChannelsConnect(cmd *cobra.Command, flags *clientFlags, provider string, noBrowser bool, timeout time.Duration) error {
	channelType, err := models.ParseChannelType(provider)
	if err != nil {
		return err
	}
	if !channelType.UsesOAuth() {
		return fmt.Errorf("%s does not connect through oauth; use `unibox channels add %s`", channelType, channelType)
	}

	server, token := flags.resolve()
	client := newAPIClient(server, token)
	session, err := client.currentSession(cmd.Context())
	if err != nil {
		return err
	}
	ctx := auth.WithSession(cmd.Context(), session)

	source, err := relay.NewWSSource(server, token, slog.Default())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var launcher connect.Launcher = connect.BrowserLauncher{}
	if noBrowser {
		launcher = &connect.HeadlessLauncher{Out: out}
	}

	coordinator, err := connect.NewCoordinator(
		channelType,
		oauth.NewClient(server, token, nil),
		launcher,
		source,
		client,
		connect.WithTimeout(timeout),
		connect.WithLogger(slog.Default()),
		connect.WithNotifier(connect.NotifierFunc(func(_ context.Context, n connect.Notification) {
			fmt.Fprintf(out, "%s: %s\n", n.Title, n.Message)
		})),
	)
	if err != nil {
		return err
	}

	if !noBrowser {
		fmt.Fprintf(out, "Opening %s authorization in your browser...\n", channelType)
	}
	conn, err := coordinator.Connect(ctx)
	if err != nil {
		if errors.Is(err, connect.ErrPopupBlocked) {
			fmt.Fprintln(out, "Could not open a browser. Retry with --no-browser to open the URL yourself.")
		}
		return err
	}
	fmt.Fprintf(out, "Channel id: %s\n", conn.ID)
	return nil
}

func runChannelsAdd(cmd *cobra.Command, flags *clientFlags, kind, name, accessToken string) error {
	channelType, err := models.ParseChannelType(kind)
	if err != nil {
		return err
	}
	conn, err := flags.client().Create(cmd.Context(), channelType, name, models.Credentials{AccessToken: accessToken})
	if err != nil {
		return err
	}
	state := "not connected"
	if conn.Connected {
		state = "connected"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s channel %q (%s), id %s\n", conn.ChannelType, conn.DisplayName, state, conn.ID)
	return nil
}

func runChannelsDisconnect(cmd *cobra.Command, flags *clientFlags, id string) error {
	if err := flags.client().deleteChannel(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s\n", id)
	return nil
}

func writeJSONOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
