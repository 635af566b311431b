package connect

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/unibox/internal/oauth"
	"github.com/haasonsaas/unibox/pkg/models"
)

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-facing outcome of a connect attempt.
type Notification struct {
	Provider models.ChannelType
	Level    Level
	Title    string
	Message  string
	// Retryable is set when running Connect again may succeed.
	Retryable bool
}

// Notifier receives connect outcomes.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, n.Title, "message", n.Message, "retryable", n.Retryable)
}

func notificationFor(provider models.ChannelType, conn *models.ChannelConnection, err error) Notification {
	n := Notification{Provider: provider, Level: LevelError, Title: "Connection failed"}
	var providerErr *ProviderError
	switch {
	case err == nil:
		n.Level = LevelSuccess
		n.Title = "Channel connected"
		n.Message = conn.DisplayName + " is now connected."
	case errors.As(err, &providerErr):
		n.Message = providerErr.Text
	case errors.Is(err, ErrTimeout):
		n.Title = "Connection timed out"
		n.Message = "No response from the authorization window. It may have been closed before finishing."
		n.Retryable = true
	case errors.Is(err, ErrPopupBlocked):
		n.Message = "The authorization window could not be opened. Allow popups and try again."
		n.Retryable = true
	case errors.Is(err, ErrMissingToken):
		n.Message = "The provider did not return an access token."
		n.Retryable = true
	case errors.Is(err, oauth.ErrNotConfigured):
		n.Title = "Configuration error"
		n.Message = "This provider is not configured on the server. Contact your administrator."
	case errors.Is(err, ErrAlreadyConnecting):
		n.Message = err.Error()
	default:
		n.Message = err.Error()
		n.Retryable = true
	}
	return n
}
