package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware attaches a Session to every request. Requests without valid
// credentials are rejected with 401 when auth is enabled.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				session := &Session{UserID: "local"}
				if service != nil {
					session = service.DefaultSession()
				}
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
				return
			}

			credential := extractCredential(r)
			if credential == "" {
				writeUnauthorized(w, "missing credentials")
				return
			}
			session, err := service.Authenticate(credential)
			if err != nil {
				if logger != nil {
					logger.Warn("authentication failed", "path", r.URL.Path, "error", err)
				}
				writeUnauthorized(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// extractCredential reads a bearer token, an X-API-Key header, or the
// access_token query parameter used by browser websocket clients.
func extractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="unibox"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
