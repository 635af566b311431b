package sync

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/unibox/pkg/models"
)

// SlackAPI is the part of the Slack Web API used for sync.
type SlackAPI interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

var _ SlackAPI = (*slack.Client)(nil)

// maxSlackConversations bounds how many joined conversations are read when
// none are configured.
const maxSlackConversations = 20

// SlackFetcher reads conversations.history with the connection's bot token.
type SlackFetcher struct {
	// NewClient builds a client for a token.
	NewClient func(token string) SlackAPI
	// Conversations limits sync to these ids. Empty means every public
	// conversation the bot has joined.
	Conversations []string
}

// NewSlackFetcher creates a fetcher using slack-go clients.
func NewSlackFetcher(conversations []string, httpClient *http.Client) *SlackFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SlackFetcher{
		NewClient: func(token string) SlackAPI {
			return slack.New(token, slack.OptionHTTPClient(httpClient))
		},
		Conversations: conversations,
	}
}

func (f *SlackFetcher) Fetch(ctx context.Context, conn *models.ChannelConnection, since *time.Time, limit int) ([]*models.Message, error) {
	if conn.Credentials.AccessToken == "" {
		return nil, fmt.Errorf("slack connection %s has no token", conn.ID)
	}
	client := f.NewClient(conn.Credentials.AccessToken)

	conversations := f.Conversations
	if len(conversations) == 0 {
		joined, err := joinedConversations(ctx, client)
		if err != nil {
			return nil, err
		}
		conversations = joined
	}

	users := map[string]*slack.User{}
	var out []*models.Message
	for _, conversation := range conversations {
		params := &slack.GetConversationHistoryParameters{ChannelID: conversation, Limit: limit}
		if since != nil {
			params.Oldest = slackTimestamp(*since)
		}
		resp, err := client.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.history %s: %w", conversation, err)
		}
		for _, msg := range resp.Messages {
			if skipSlackMessage(msg) {
				continue
			}
			out = append(out, f.convert(ctx, client, conn, conversation, msg, users))
		}
	}
	return out, nil
}

func joinedConversations(ctx context.Context, client SlackAPI) ([]string, error) {
	var ids []string
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Types:           []string{"public_channel"},
		Limit:           200,
	}
	for {
		channels, cursor, err := client.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", err)
		}
		for _, ch := range channels {
			if ch.IsMember {
				ids = append(ids, ch.ID)
				if len(ids) == maxSlackConversations {
					return ids, nil
				}
			}
		}
		if cursor == "" {
			return ids, nil
		}
		params.Cursor = cursor
	}
}

func skipSlackMessage(msg slack.Message) bool {
	switch msg.SubType {
	case "", "bot_message", "thread_broadcast", "file_share":
		return msg.Timestamp == ""
	default:
		return true
	}
}

func (f *SlackFetcher) convert(ctx context.Context, client SlackAPI, conn *models.ChannelConnection, conversation string, msg slack.Message, users map[string]*slack.User) *models.Message {
	external := conversation + ":" + msg.Timestamp
	out := &models.Message{
		ID:          MessageID(conn.ID, external),
		ExternalID:  external,
		SenderID:    msg.User,
		SenderName:  slackSenderName(ctx, client, msg, users),
		Content:     msg.Text,
		CreatedAt:   parseSlackTimestamp(msg.Timestamp),
		Attachments: make([]models.Attachment, 0, len(msg.Files)),
	}
	if user := users[msg.User]; user != nil {
		out.SenderAvatar = user.Profile.Image72
	}
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
		root := MessageID(conn.ID, conversation+":"+msg.ThreadTimestamp)
		out.ThreadID = root
		out.ParentID = root
	}
	for _, file := range msg.Files {
		out.Attachments = append(out.Attachments, models.Attachment{
			ID:       file.ID,
			Name:     file.Name,
			MimeType: file.Mimetype,
			URL:      file.URLPrivate,
			Size:     int64(file.Size),
		})
	}
	return out
}

func slackSenderName(ctx context.Context, client SlackAPI, msg slack.Message, users map[string]*slack.User) string {
	if msg.User != "" {
		user, seen := users[msg.User]
		if !seen {
			fetched, err := client.GetUserInfoContext(ctx, msg.User)
			if err == nil {
				user = fetched
			}
			users[msg.User] = user
		}
		if user != nil {
			for _, name := range []string{user.Profile.DisplayName, user.RealName, user.Name} {
				if name != "" {
					return name
				}
			}
		}
	}
	if msg.Username != "" {
		return msg.Username
	}
	if msg.User != "" {
		return msg.User
	}
	return "Slack user"
}

// slackTimestamp formats t as a Slack ts ("seconds.micros").
func slackTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func parseSlackTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		micros, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(sec, micros*1000).UTC()
}
