// Package profile reads and updates the session user's account profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

const maxFullNameLength = 200

var ErrInvalidProfile = errors.New("invalid profile")

// Update is a partial profile change. Nil fields are left as they are.
// Email comes from the identity provider and cannot be changed here.
type Update struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Service manages profiles.
type Service struct {
	store storage.ProfileStore
	now   func() time.Time
}

func NewService(store storage.ProfileStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the stored profile. A user without one gets a profile built
// from the session identity; it is not persisted until updated.
func (s *Service) Get(ctx context.Context) (*models.Profile, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Get(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.Profile{UserID: session.UserID, Email: session.Email, FullName: session.Name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return stored, nil
}

// Update applies update and persists the result.
func (s *Service) Update(ctx context.Context, update Update) (*models.Profile, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if len(name) > maxFullNameLength {
			return nil, fmt.Errorf("%w: full name exceeds %d characters", ErrInvalidProfile, maxFullNameLength)
		}
		current.FullName = name
	}
	if update.AvatarURL != nil {
		avatar := strings.TrimSpace(*update.AvatarURL)
		if avatar != "" {
			u, err := url.Parse(avatar)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("%w: avatar url must be an absolute http(s) url", ErrInvalidProfile)
			}
		}
		current.AvatarURL = avatar
	}

	now := s.now().UTC()
	if current.CreatedAt.IsZero() {
		current.CreatedAt = now
	}
	current.UpdatedAt = now
	if err := s.store.Upsert(ctx, current); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return current, nil
}
