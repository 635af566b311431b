// Package oauth implements the credential exchange service: building
// provider authorization URLs and trading authorization codes for tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/unibox/internal/observability"
)

var (
	// ErrNotConfigured means the deployment lacks client credentials for
	// the provider. It is not retryable.
	ErrNotConfigured = errors.New("provider is not configured")
	// ErrCodeRejected means the provider refused the authorization code,
	// usually because it expired or was already used.
	ErrCodeRejected = errors.New("authorization code rejected")
	// ErrTransport means the provider could not be reached.
	ErrTransport = errors.New("provider unreachable")
	// ErrUnknownProvider means no provider is registered under the name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Result is the outcome of a successful code exchange.
type Result struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IdentityName string `json:"identity_name"`
	IdentityID   string `json:"identity_id"`
}

// Provider builds authorization URLs and exchanges codes for one platform.
// Exchange calls the token endpoint once and never retries: codes are
// single use.
type Provider interface {
	Name() string
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*Result, error)
}

// ProviderConfig holds a provider's client registration.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL must match the callback registered with the provider
	// exactly, for both the authorization URL and the exchange.
	RedirectURL string
	Scopes      []string
}

func (c ProviderConfig) validate(provider string) error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		missing = append(missing, "redirect_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", ErrNotConfigured, provider, strings.Join(missing, ", "))
	}
	return nil
}

// Service dispatches to registered providers and records exchange
// metrics and traces.
type Service struct {
	providers map[string]Provider
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// NewService registers providers by name.
func NewService(providers []Provider, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		providers: make(map[string]Provider, len(providers)),
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With("component", "oauth"),
	}
	for _, p := range providers {
		if p != nil {
			s.providers[strings.ToLower(p.Name())] = p
		}
	}
	return s
}

// Providers lists registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) provider(name string) (Provider, error) {
	p, ok := s.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// AuthURL returns the authorization URL for provider carrying state.
func (s *Service) AuthURL(ctx context.Context, provider, state string) (string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}
	return p.AuthURL(state)
}

// Exchange trades code for credentials with provider.
func (s *Service) Exchange(ctx context.Context, provider, code string) (*Result, error) {
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	ctx = observability.AddProvider(ctx, p.Name())
	ctx, span := s.tracer.Start(ctx, "oauth.exchange", "provider", p.Name())
	defer span.End()

	start := time.Now()
	result, err := p.Exchange(ctx, code)
	s.metrics.ObserveExchange(p.Name(), resultLabel(err), time.Since(start))
	if err != nil {
		s.tracer.RecordError(span, err)
		s.logger.WarnContext(ctx, "code exchange failed", "error", err)
		return nil, err
	}
	if result == nil || result.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider returned no access token", ErrCodeRejected)
	}
	s.logger.InfoContext(ctx, "code exchanged", "identity_id", result.IdentityID)
	return result, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "config"
	case errors.Is(err, ErrCodeRejected):
		return "rejected"
	default:
		return "transport"
	}
}
