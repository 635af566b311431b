// Package api serves the unibox REST and event stream endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/unibox/internal/channels"
	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/internal/profile"
	"github.com/haasonsaas/unibox/internal/settings"
	"github.com/haasonsaas/unibox/internal/sync"
	"github.com/haasonsaas/unibox/internal/tickets"
)

// SyncRunner triggers an on-demand sync pass.
type SyncRunner interface {
	SyncAll(ctx context.Context) (sync.Report, error)
}

// EventSource delivers inbox events for a user.
type EventSource interface {
	Subscribe(userID string) (<-chan inbox.Event, func())
}

// Config holds the services behind the API. Sync and Events are optional;
// their routes answer 404 when unset.
type Config struct {
	Inbox    *inbox.Service
	Channels *channels.Registry
	Settings *settings.Service
	Profiles *profile.Service
	Tickets  *tickets.Service
	Sync     SyncRunner
	Events   EventSource
	// AllowedOrigins are accepted for the event stream in addition to
	// same-origin requests.
	AllowedOrigins []string
	PingInterval   time.Duration
	Logger         *slog.Logger
}

// Handler implements the API routes.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{cfg: cfg, logger: cfg.Logger.With("component", "api")}
}

// Register adds every route to mux, each wrapped by protect.
func (h *Handler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	routes := map[string]http.HandlerFunc{
		"GET /api/channels":         h.listChannels,
		"POST /api/channels":        h.createChannel,
		"GET /api/channels/{id}":    h.getChannel,
		"DELETE /api/channels/{id}": h.deleteChannel,

		"GET /api/messages":               h.listMessages,
		"GET /api/messages/{id}":          h.getMessage,
		"POST /api/messages/{id}/read":    h.markRead,
		"POST /api/messages/{id}/archive": h.archive,
		"POST /api/messages/{id}/reply":   h.reply,
		"POST /api/messages/{id}/star":    h.star,
		"DELETE /api/messages/{id}/star":  h.unstar,
		"GET /api/threads":                h.listThreads,

		"GET /api/settings":                   h.getSettings,
		"PUT /api/settings":                   h.updateSettings,
		"POST /api/settings/mute/{channel}":   h.mute,
		"DELETE /api/settings/mute/{channel}": h.unmute,

		"GET /api/profile": h.getProfile,
		"PUT /api/profile": h.updateProfile,

		"GET /api/tickets":         h.listTickets,
		"POST /api/tickets":        h.createTicket,
		"GET /api/tickets/{id}":    h.getTicket,
		"PATCH /api/tickets/{id}":  h.updateTicket,
		"DELETE /api/tickets/{id}": h.deleteTicket,

		"POST /api/sync": h.runSync,
		"GET /ws/events": h.streamEvents,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, protect(fn))
	}
}
