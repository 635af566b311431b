package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
	ErrNoSession    = errors.New("no session")
)

// Session identifies the authenticated caller of an operation.
type Session struct {
	UserID string
	Email  string
	Name   string
	// Token is the bearer credential the session was built from, forwarded
	// when the caller talks to other unibox endpoints.
	Token string
}

type sessionContextKey struct{}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, session *Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext retrieves the session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(*Session)
	return session, ok && session != nil && session.UserID != ""
}

// RequireSession returns the context session or ErrNoSession.
func RequireSession(ctx context.Context) (*Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return session, nil
}

// Config configures authentication.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
	// DefaultUser is the identity used for every request when no secret
	// and no API key are configured.
	DefaultUser string
}

// APIKeyConfig declares a static API key and its identity.
type APIKeyConfig struct {
	Key    string
	UserID string
	Email  string
	Name   string
}

// Service validates bearer tokens and API keys.
type Service struct {
	jwt         *JWTService
	apiKeys     map[string]*Session
	defaultUser string
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{defaultUser: strings.TrimSpace(cfg.DefaultUser)}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	if service.defaultUser == "" {
		service.defaultUser = "local"
	}
	return service
}

// Enabled reports whether requests must carry credentials.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// DefaultSession is the session used when auth is disabled.
func (s *Service) DefaultSession() *Session {
	return &Session{UserID: s.defaultUser}
}

// Issue signs a token for session.
func (s *Service) Issue(session *Session) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(session)
}

// Authenticate resolves a bearer token or API key into a session.
func (s *Service) Authenticate(credential string) (*Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidToken
	}
	if s.jwt != nil {
		if session, err := s.jwt.Validate(credential); err == nil {
			return session, nil
		}
	}
	if len(s.apiKeys) > 0 {
		if session, err := s.validateAPIKey(credential); err == nil {
			return session, nil
		}
	}
	return nil, ErrInvalidToken
}

// validateAPIKey compares against every key in constant time.
func (s *Service) validateAPIKey(key string) (*Session, error) {
	var matched *Session
	for storedKey, session := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(storedKey)) == 1 {
			matched = session
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}
	out := *matched
	out.Token = key
	return &out, nil
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*Session {
	out := map[string]*Session{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &Session{
			UserID: userID,
			Email:  strings.TrimSpace(entry.Email),
			Name:   strings.TrimSpace(entry.Name),
		}
	}
	return out
}
