// Package settings manages per-user notification preferences.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

// ErrUnknownChannel means a mute referenced a channel the user does not own.
var ErrUnknownChannel = errors.New("unknown channel")

// Channels looks up the session user's channels.
type Channels interface {
	Get(ctx context.Context, id string) (*models.ChannelConnection, error)
	List(ctx context.Context) ([]*models.ChannelConnection, error)
}

// Update is a partial settings change. Nil fields are left as they are.
type Update struct {
	Push  *bool `json:"push,omitempty"`
	Email *bool `json:"email,omitempty"`
	Sound *bool `json:"sound,omitempty"`
}

// Service reads and writes the session user's settings.
type Service struct {
	store    storage.SettingsStore
	channels Channels
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a settings service.
func NewService(store storage.SettingsStore, channels Channels, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		channels: channels,
		logger:   logger.With("component", "settings"),
		now:      time.Now,
	}
}

// Get returns the stored settings, or the defaults when none are stored.
func (s *Service) Get(ctx context.Context) (*models.NotificationSettings, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, session.UserID)
}

func (s *Service) load(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	stored, err := s.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.DefaultNotificationSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if stored.MutedChannels == nil {
		stored.MutedChannels = []string{}
	}
	return stored, nil
}

func (s *Service) save(ctx context.Context, settings *models.NotificationSettings) (*models.NotificationSettings, error) {
	settings.UpdatedAt = s.now().UTC()
	if err := s.store.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

// Update applies a partial change to the toggles.
func (s *Service) Update(ctx context.Context, update Update) (*models.NotificationSettings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if update.Push != nil {
		current.Push = *update.Push
	}
	if update.Email != nil {
		current.Email = *update.Email
	}
	if update.Sound != nil {
		current.Sound = *update.Sound
	}
	return s.save(ctx, current)
}

// Mute silences channelID. The channel must exist and belong to the user.
func (s *Service) Mute(ctx context.Context, channelID string) (*models.NotificationSettings, error) {
	channelID = strings.TrimSpace(channelID)
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.channels.Get(ctx, channelID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	if current.IsMuted(channelID) {
		return current, nil
	}
	current.MutedChannels = append(current.MutedChannels, channelID)
	return s.save(ctx, current)
}

// Unmute removes channelID from the muted list. Stale ids can always be
// removed.
func (s *Service) Unmute(ctx context.Context, channelID string) (*models.NotificationSettings, error) {
	channelID = strings.TrimSpace(channelID)
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !current.IsMuted(channelID) {
		return current, nil
	}
	kept := make([]string, 0, len(current.MutedChannels))
	for _, id := range current.MutedChannels {
		if id != channelID {
			kept = append(kept, id)
		}
	}
	current.MutedChannels = kept
	return s.save(ctx, current)
}

// Effective returns the settings with muted ids that no longer reference
// an existing channel left out. The stored record is not modified.
func (s *Service) Effective(ctx context.Context) (*models.NotificationSettings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(current.MutedChannels) == 0 {
		return current, nil
	}
	list, err := s.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	existing := make(map[string]struct{}, len(list))
	for _, conn := range list {
		existing[conn.ID] = struct{}{}
	}
	kept := make([]string, 0, len(current.MutedChannels))
	for _, id := range current.MutedChannels {
		if _, ok := existing[id]; ok {
			kept = append(kept, id)
		}
	}
	if stale := len(current.MutedChannels) - len(kept); stale > 0 {
		s.logger.DebugContext(ctx, "ignoring stale muted channels", "count", stale)
	}
	current.MutedChannels = kept
	return current, nil
}

// ShouldNotify reports whether a message on channelID should produce a
// notification for the session user.
func (s *Service) ShouldNotify(ctx context.Context, channelID string) (bool, error) {
	current, err := s.Effective(ctx)
	if err != nil {
		return false, err
	}
	if !current.Push && !current.Email && !current.Sound {
		return false, nil
	}
	return !current.IsMuted(channelID), nil
}
