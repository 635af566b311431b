// Package channels holds the set of connected accounts for a user.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

var (
	ErrNotFound            = errors.New("channel not found")
	ErrCredentialsRequired = errors.New("channel type requires credentials")
)

const maxDisplayNameLength = 200

// DefaultDisplayName is used when a provider supplies no identity name.
func DefaultDisplayName(t models.ChannelType) string {
	switch t {
	case models.ChannelSlack:
		return "Slack Workspace"
	case models.ChannelDiscord:
		return "Discord Server"
	case models.ChannelTeams:
		return "Microsoft Teams"
	case models.ChannelGmail:
		return "Gmail"
	case models.ChannelTwitter:
		return "Twitter"
	case models.ChannelLinkedIn:
		return "LinkedIn"
	}
	return string(t)
}

// Registry creates, lists and removes channel connections for the
// session user.
type Registry struct {
	store  storage.ChannelStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewRegistry creates a registry over store. A nil logger uses the default.
func NewRegistry(store storage.ChannelStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "channels"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create records a new connection. OAuth channel types must carry an
// access token and are stored connected. Other types are recorded by
// name only and stay disconnected until a token exists for them.
func (r *Registry) Create(ctx context.Context, channelType models.ChannelType, displayName string, creds models.Credentials) (*models.ChannelConnection, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseChannelType(string(channelType)); err != nil {
		return nil, err
	}
	if channelType.UsesOAuth() && strings.TrimSpace(creds.AccessToken) == "" {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsRequired, channelType)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = DefaultDisplayName(channelType)
	}
	displayName = truncate(displayName, maxDisplayNameLength)

	conn := &models.ChannelConnection{
		ID:          r.newID(),
		UserID:      session.UserID,
		ChannelType: channelType,
		DisplayName: displayName,
		Credentials: creds,
		Connected:   creds.AccessToken != "",
		CreatedAt:   r.now().UTC(),
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	r.logger.InfoContext(ctx, "channel created",
		"channel_id", conn.ID,
		"channel_type", conn.ChannelType,
		"connected", conn.Connected,
	)
	return conn, nil
}

// List returns the session user's connections.
func (r *Registry) List(ctx context.Context) ([]*models.ChannelConnection, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	conns, err := r.store.List(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return conns, nil
}

// Get returns one of the session user's connections.
func (r *Registry) Get(ctx context.Context, id string) (*models.ChannelConnection, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return r.owned(ctx, session.UserID, id)
}

func (r *Registry) owned(ctx context.Context, userID, id string) (*models.ChannelConnection, error) {
	conn, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if conn.UserID != userID {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Delete removes a connection. Messages already ingested from it are kept
// and stay visible to their owner.
func (r *Registry) Delete(ctx context.Context, id string) error {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return err
	}
	if _, err := r.owned(ctx, session.UserID, id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete channel: %w", err)
	}
	r.logger.InfoContext(ctx, "channel deleted", "channel_id", id)
	return nil
}

// MarkSynced stamps the last successful sync time. It is called by the
// background sync, which has no session, so it is not user-scoped.
func (r *Registry) MarkSynced(ctx context.Context, id string, at time.Time) error {
	conn, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get channel: %w", err)
	}
	at = at.UTC()
	conn.LastSyncAt = &at
	if err := r.store.Update(ctx, conn); err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return nil
}

// Connected returns every connected channel of the given types across all
// users. Used by background sync.
func (r *Registry) Connected(ctx context.Context, types ...models.ChannelType) ([]*models.ChannelConnection, error) {
	conns, err := r.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := conns[:0]
	for _, conn := range conns {
		if !conn.Connected {
			continue
		}
		if len(types) > 0 && !containsType(types, conn.ChannelType) {
			continue
		}
		out = append(out, conn)
	}
	return out, nil
}

func containsType(types []models.ChannelType, t models.ChannelType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
