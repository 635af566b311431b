package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/unibox/internal/auth"
)

// SyncResponse summarizes an on-demand sync.
type SyncResponse struct {
	Channels int      `json:"channels"`
	Ingested int      `json:"ingested"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sync == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "sync is not enabled"})
		return
	}
	if _, err := auth.RequireSession(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.cfg.Sync.SyncAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := SyncResponse{
		Channels: report.Channels,
		Ingested: report.Ingested,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
	}
	for _, e := range report.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

const eventWriteWait = 10 * time.Second

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header, same-host
// origins and the configured allow list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// streamEvents pushes the session user's inbox events as JSON frames
// until the client goes away.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Events == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "event stream is not enabled"})
		return
	}
	session, err := auth.RequireSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Subscribe before the upgrade completes so nothing committed after
	// the client sees the handshake is missed.
	events, unsubscribe := h.cfg.Events.Subscribe(session.UserID)
	defer unsubscribe()

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pongWait := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.DebugContext(r.Context(), "event write failed", "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
