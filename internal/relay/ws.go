package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/unibox/internal/auth"
)

const (
	wsMaxPayloadBytes = 64 << 10
	wsPingInterval    = 20 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// StreamHandler serves GET /ws/relay?state=… and forwards the first
// envelope for that state to the websocket, then closes it.
type StreamHandler struct {
	bus      *Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the relay websocket handler. Browser clients
// must come from the bus origin; clients without an Origin header are
// accepted.
func NewStreamHandler(bus *Bus, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		bus:    bus,
		logger: logger.With("component", "relay_stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || NormalizeOrigin(origin) == bus.Origin()
			},
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireSession(r.Context()); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" || len(state) > maxStateLength {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}

	// Subscribe before the upgrade completes so that a client holding an
	// open connection never misses the envelope.
	envelopes, cancel := h.bus.Subscribe(state)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("relay upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsMaxPayloadBytes)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case env := <-envelopes:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteJSON(env); err != nil {
				h.logger.Warn("relay write failed", "error", err)
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "delivered"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// WSSource listens for envelopes through a server's /ws/relay endpoint.
type WSSource struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewWSSource creates a source for the server at baseURL. http and https
// base URLs map to ws and wss.
func NewWSSource(baseURL, token string, logger *slog.Logger) (*WSSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws/relay"
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		endpoint: u.String(),
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.With("component", "relay_source"),
	}, nil
}

// Listen connects and returns the envelopes received for state. The
// channel is closed when the connection ends. The returned func closes the
// connection and may be called more than once.
func (s *WSSource) Listen(ctx context.Context, state string) (<-chan Envelope, func(), error) {
	endpoint := s.endpoint + "?" + url.Values{"state": {state}}.Encode()
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, fmt.Errorf("relay: %w", auth.ErrInvalidToken)
		}
		return nil, nil, fmt.Errorf("relay dial: %w", err)
	}

	out := make(chan Envelope, 1)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		conn.SetReadLimit(wsMaxPayloadBytes)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					select {
					case <-done:
					default:
						s.logger.Debug("relay connection ended", "error", err)
					}
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			env, err := Decode(data)
			if err != nil {
				s.logger.Debug("ignoring relay frame", "error", err)
				continue
			}
			select {
			case out <- env:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}
