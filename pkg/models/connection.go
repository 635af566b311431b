// Package models defines the core data types for unibox: channel connections,
// inbox messages, notification settings, profiles and tickets.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChannelType identifies a communication platform.
type ChannelType string

const (
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelTeams    ChannelType = "teams"
	ChannelGmail    ChannelType = "gmail"
	ChannelTwitter  ChannelType = "twitter"
	ChannelLinkedIn ChannelType = "linkedin"
)

// ChannelTypes lists every supported channel type in display order.
var ChannelTypes = []ChannelType{
	ChannelSlack,
	ChannelDiscord,
	ChannelTeams,
	ChannelGmail,
	ChannelTwitter,
	ChannelLinkedIn,
}

// ParseChannelType resolves a case-insensitive channel type name.
func ParseChannelType(s string) (ChannelType, error) {
	candidate := ChannelType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range ChannelTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown channel type %q", s)
}

// UsesOAuth reports whether connections of this type are created by the OAuth handshake.
func (t ChannelType) UsesOAuth() bool {
	return t == ChannelSlack || t == ChannelDiscord
}

var (
	ErrMissingAccessToken = errors.New("connected channel requires an access token")
	ErrCredentialMismatch = errors.New("credential metadata does not match channel type")
)

// SlackCredentials carries the workspace identity returned by Slack.
type SlackCredentials struct {
	TeamID   string `json:"team_id,omitempty"`
	TeamName string `json:"team_name,omitempty"`
}

// DiscordCredentials carries the user identity returned by Discord.
type DiscordCredentials struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Credentials holds the secrets for a connection. At most one of the
// provider blocks is set, and it must match the owning channel type.
type Credentials struct {
	AccessToken  string              `json:"access_token,omitempty"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	Slack        *SlackCredentials   `json:"slack,omitempty"`
	Discord      *DiscordCredentials `json:"discord,omitempty"`
}

// Redacted returns a copy with the token values removed.
func (c Credentials) Redacted() Credentials {
	out := c
	if out.AccessToken != "" {
		out.AccessToken = "[REDACTED]"
	}
	if out.RefreshToken != "" {
		out.RefreshToken = "[REDACTED]"
	}
	return out
}

// ChannelConnection is a connected third-party account.
type ChannelConnection struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	ChannelType ChannelType `json:"channel_type"`
	DisplayName string      `json:"display_name"`
	Credentials Credentials `json:"credentials"`
	Connected   bool        `json:"connected"`
	CreatedAt   time.Time   `json:"created_at"`
	LastSyncAt  *time.Time  `json:"last_sync_at,omitempty"`
}

// Validate checks the connection invariants.
func (c *ChannelConnection) Validate() error {
	if c == nil {
		return errors.New("connection is required")
	}
	if _, err := ParseChannelType(string(c.ChannelType)); err != nil {
		return err
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		return errors.New("display name is required")
	}
	if c.Connected && c.Credentials.AccessToken == "" {
		return ErrMissingAccessToken
	}
	switch {
	case c.Credentials.Slack != nil && c.ChannelType != ChannelSlack:
		return ErrCredentialMismatch
	case c.Credentials.Discord != nil && c.ChannelType != ChannelDiscord:
		return ErrCredentialMismatch
	}
	return nil
}

// Public returns the connection with credentials redacted, suitable for API responses.
func (c *ChannelConnection) Public() *ChannelConnection {
	if c == nil {
		return nil
	}
	out := *c
	out.Credentials = c.Credentials.Redacted()
	return &out
}
