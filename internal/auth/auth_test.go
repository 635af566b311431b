package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate(&Session{UserID: "user-1", Email: "user@example.com", Name: "User"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	session, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if session.UserID != "user-1" || session.Email != "user@example.com" || session.Name != "User" {
		t.Fatalf("Validate() = %+v", session)
	}
	if session.Token != token {
		t.Error("Validate() did not keep the raw token")
	}

	other := NewJWTService("other", time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() with wrong secret error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTServiceExpired(t *testing.T) {
	service := NewJWTService("secret", -time.Minute)
	token, err := service.Generate(&Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	// Negative expiry disables the exp claim.
	if _, err := service.Validate(token); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	short := NewJWTService("secret", time.Nanosecond)
	token, _ = short.Generate(&Session{UserID: "user-1"})
	time.Sleep(1100 * time.Millisecond)
	if _, err := short.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() expired error = %v, want ErrInvalidToken", err)
	}
}

func TestServiceAuthenticate(t *testing.T) {
	service := NewService(Config{
		JWTSecret: "secret",
		APIKeys:   []APIKeyConfig{{Key: "key-1", UserID: "svc"}, {Key: "key-2"}},
	})
	token, err := service.Issue(&Session{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name       string
		credential string
		wantUser   string
		wantErr    bool
	}{
		{"jwt", token, "user-1", false},
		{"api key", "key-1", "svc", false},
		{"garbage", "nope", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := service.Authenticate(tt.credential)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && session.UserID != tt.wantUser {
				t.Errorf("Authenticate() user = %q, want %q", session.UserID, tt.wantUser)
			}
		})
	}

	derived, err := service.Authenticate("key-2")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if len(derived.UserID) < 5 || derived.UserID[:4] != "api_" {
		t.Errorf("derived user id = %q", derived.UserID)
	}
}

func TestMiddleware(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret"})
	token, _ := service.Issue(&Session{UserID: "user-1"})

	var seen string
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := RequireSession(r.Context())
		if err != nil {
			t.Fatalf("RequireSession() error = %v", err)
		}
		seen = session.UserID
	}))

	tests := []struct {
		name       string
		setup      func(*http.Request)
		wantStatus int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("access_token", token)
			r.URL.RawQuery = q.Encode()
		}, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && seen != "user-1" {
				t.Errorf("session user = %q, want user-1", seen)
			}
		})
	}
}

func TestMiddlewareDisabledUsesDefaultUser(t *testing.T) {
	service := NewService(Config{DefaultUser: "dev"})
	var seen string
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := SessionFromContext(r.Context())
		seen = session.UserID
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != "dev" {
		t.Fatalf("session user = %q, want dev", seen)
	}
}

func TestRequireSession(t *testing.T) {
	if _, err := RequireSession(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("RequireSession() error = %v, want ErrNoSession", err)
	}
	ctx := WithSession(context.Background(), &Session{})
	if _, err := RequireSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("RequireSession() with empty user error = %v, want ErrNoSession", err)
	}
}
