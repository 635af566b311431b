package oauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/unibox/internal/auth"
)

const (
	maxCodeLength     = 4096
	maxStateLength    = 256
	maxProviderLength = 64
)

// Handler serves GET /api/oauth/{provider}. Without a code it returns the
// authorization URL; with a code it returns the exchanged credentials.
type Handler struct {
	service *Service
	limiter *userLimiter
	logger  *slog.Logger
}

// RateLimit bounds requests per user. A zero PerMinute disables limiting.
type RateLimit struct {
	PerMinute float64
	Burst     int
}

// NewHandler creates the exchange endpoint handler.
func NewHandler(service *Service, limit RateLimit, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		limiter: newUserLimiter(limit),
		logger:  logger.With("component", "oauth_handler"),
	}
}

type urlResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	session, err := auth.RequireSession(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	provider := r.PathValue("provider")
	if provider == "" || len(provider) > maxProviderLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid provider"})
		return
	}
	if !h.limiter.allow(session.UserID) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
		return
	}

	query := r.URL.Query()
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		h.serveAuthURL(w, r, provider, query.Get("state"))
		return
	}
	if len(code) > maxCodeLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "authorization code too long"})
		return
	}

	result, err := h.service.Exchange(r.Context(), provider, code)
	if err != nil {
		writeExchangeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) serveAuthURL(w http.ResponseWriter, r *http.Request, provider, state string) {
	state = strings.TrimSpace(state)
	if len(state) > maxStateLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state too long"})
		return
	}
	if state == "" {
		state = uuid.NewString()
	}
	url, err := h.service.AuthURL(r.Context(), provider, state)
	if err != nil {
		writeExchangeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url, State: state})
}

func writeExchangeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotConfigured):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Configuration error", Details: err.Error()})
	case errors.Is(err, ErrCodeRejected):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*limiterEntry
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

const limiterIdleTTL = 30 * time.Minute

func newUserLimiter(cfg RateLimit) *userLimiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:   rate.Limit(cfg.PerMinute / 60),
		burst:   burst,
		buckets: make(map[string]*limiterEntry),
	}
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.buckets[userID]
	if !ok {
		l.evictLocked(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *userLimiter) evictLocked(now time.Time) {
	for id, entry := range l.buckets {
		if now.Sub(entry.seen) > limiterIdleTTL {
			delete(l.buckets, id)
		}
	}
}
