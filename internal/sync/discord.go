package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/unibox/pkg/models"
)

// DiscordAPI is the part of the Discord REST API used for sync.
type DiscordAPI interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

var _ DiscordAPI = (*discordgo.Session)(nil)

// discordEpochMS is the Discord snowflake epoch in unix milliseconds.
const discordEpochMS = 1420070400000

// DiscordFetcher reads configured channels with a bot session. Every
// connected Discord connection receives the messages of those channels.
type DiscordFetcher struct {
	Session    DiscordAPI
	ChannelIDs []string
}

// NewDiscordFetcher opens a REST-only bot session for token.
func NewDiscordFetcher(botToken string, channelIDs []string) (*DiscordFetcher, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordFetcher{Session: session, ChannelIDs: channelIDs}, nil
}

func (f *DiscordFetcher) Fetch(ctx context.Context, conn *models.ChannelConnection, since *time.Time, limit int) ([]*models.Message, error) {
	if limit > 100 {
		limit = 100
	}
	afterID := ""
	if since != nil {
		afterID = snowflakeAt(*since)
	}

	var out []*models.Message
	for _, channelID := range f.ChannelIDs {
		messages, err := f.Session.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("channel messages %s: %w", channelID, err)
		}
		out = append(out, convertDiscord(conn, channelID, messages)...)
	}
	return out, nil
}

// convertDiscord maps a batch oldest first so replies can inherit the
// thread of a message in the same batch.
func convertDiscord(conn *models.ChannelConnection, channelID string, messages []*discordgo.Message) []*models.Message {
	sorted := make([]*discordgo.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil && m.ID != "" && (m.Type == discordgo.MessageTypeDefault || m.Type == discordgo.MessageTypeReply) {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	byExternal := make(map[string]*models.Message, len(sorted))
	out := make([]*models.Message, 0, len(sorted))
	for _, m := range sorted {
		external := channelID + ":" + m.ID
		msg := &models.Message{
			ID:          MessageID(conn.ID, external),
			ExternalID:  external,
			Content:     m.Content,
			CreatedAt:   m.Timestamp.UTC(),
			SenderName:  "Discord user",
			Attachments: make([]models.Attachment, 0, len(m.Attachments)),
		}
		if m.Author != nil {
			msg.SenderID = m.Author.ID
			msg.SenderAvatar = m.Author.AvatarURL("64")
			switch {
			case m.Author.GlobalName != "":
				msg.SenderName = m.Author.GlobalName
			case m.Author.Username != "":
				msg.SenderName = m.Author.Username
			}
		}
		if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
			parentExternal := channelID + ":" + ref.MessageID
			msg.ParentID = MessageID(conn.ID, parentExternal)
			msg.ThreadID = msg.ParentID
			if parent, ok := byExternal[parentExternal]; ok {
				msg.ThreadID = parent.ThreadKey()
			}
		}
		for _, a := range m.Attachments {
			if a == nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, models.Attachment{
				ID:       a.ID,
				Name:     a.Filename,
				MimeType: a.ContentType,
				URL:      a.URL,
				Size:     int64(a.Size),
			})
		}
		byExternal[external] = msg
		out = append(out, msg)
	}
	return out
}

// snowflakeAt returns the smallest snowflake created at t.
func snowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMS
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}
