package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/channels"
	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/internal/profile"
	"github.com/haasonsaas/unibox/internal/settings"
	"github.com/haasonsaas/unibox/internal/sync"
	"github.com/haasonsaas/unibox/internal/tickets"
	"github.com/haasonsaas/unibox/pkg/models"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks request decoding and parameter failures.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// statusFor maps service errors onto HTTP status codes. Anything it does
// not recognize is an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, inbox.ErrNotFound),
		errors.Is(err, channels.ErrNotFound),
		errors.Is(err, tickets.ErrNotFound),
		errors.Is(err, settings.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, inbox.ErrEmptyContent),
		errors.Is(err, inbox.ErrReplyTooLong),
		errors.Is(err, inbox.ErrInvalidView),
		errors.Is(err, channels.ErrCredentialsRequired),
		errors.Is(err, models.ErrMissingAccessToken),
		errors.Is(err, models.ErrCredentialMismatch),
		errors.Is(err, tickets.ErrTitleRequired),
		errors.Is(err, tickets.ErrInvalidTicket),
		errors.Is(err, profile.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, sync.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status statusFor assigns. Internal errors
// are logged and replaced with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, name)
	}
	return b, nil
}
