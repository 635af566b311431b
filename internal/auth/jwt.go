package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "unibox"

var errMissingSubject = errors.New("user id required")

// JWTService signs and verifies HS256 session tokens.
type JWTService struct {
	key []byte
	ttl time.Duration
}

// NewJWTService returns a signer keyed by secret. A non-positive ttl
// issues tokens without an exp claim.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{key: []byte(secret), ttl: ttl}
}

// Claims carries the session profile next to the registered claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (s *JWTService) enabled() bool {
	return s != nil && len(s.key) > 0
}

func (s *JWTService) claimsFor(session *Session, issued time.Time) Claims {
	c := Claims{
		Email: strings.TrimSpace(session.Email),
		Name:  strings.TrimSpace(session.Name),
	}
	c.Subject = session.UserID
	c.Issuer = tokenIssuer
	c.IssuedAt = jwt.NewNumericDate(issued)
	if s.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(issued.Add(s.ttl))
	}
	return c
}

// Generate returns a signed token for session.
func (s *JWTService) Generate(session *Session) (string, error) {
	if !s.enabled() {
		return "", ErrAuthDisabled
	}
	if session == nil || strings.TrimSpace(session.UserID) == "" {
		return "", errMissingSubject
	}
	claims := s.claimsFor(session, time.Now())
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *JWTService) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("auth: unsupported alg %q", t.Method.Alg())
	}
	return s.key, nil
}

// Validate checks signature and expiry and rebuilds the session. Every
// failure maps to ErrInvalidToken.
func (s *JWTService) Validate(raw string) (*Session, error) {
	if !s.enabled() {
		return nil, ErrAuthDisabled
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, s.keyFunc); err != nil {
		return nil, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, ErrInvalidToken
	}
	return &Session{
		UserID: subject,
		Email:  strings.TrimSpace(claims.Email),
		Name:   strings.TrimSpace(claims.Name),
		Token:  raw,
	}, nil
}
