package models

import "time"

// NotificationSettings are a user's notification preferences.
type NotificationSettings struct {
	UserID        string    `json:"user_id"`
	Push          bool      `json:"push"`
	Email         bool      `json:"email"`
	Sound         bool      `json:"sound"`
	MutedChannels []string  `json:"muted_channels"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultNotificationSettings returns settings with every toggle enabled.
func DefaultNotificationSettings(userID string) *NotificationSettings {
	return &NotificationSettings{
		UserID:        userID,
		Push:          true,
		Email:         true,
		Sound:         true,
		MutedChannels: []string{},
	}
}

// IsMuted reports whether notifications for channelID are muted.
func (s *NotificationSettings) IsMuted(channelID string) bool {
	for _, id := range s.MutedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// Profile is the user-facing account record.
type Profile struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
