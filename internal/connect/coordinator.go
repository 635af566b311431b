// Package connect drives a single OAuth connection attempt: it opens the
// provider's authorization page, waits for the relayed result, and records
// the new channel.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/channels"
	"github.com/haasonsaas/unibox/internal/observability"
	"github.com/haasonsaas/unibox/internal/relay"
	"github.com/haasonsaas/unibox/pkg/models"
)

// DefaultTimeout bounds the wait for the relayed result.
const DefaultTimeout = 120 * time.Second

var (
	ErrPopupBlocked      = errors.New("authorization window could not be opened")
	ErrMissingToken      = errors.New("authorization finished without an access token")
	ErrTimeout           = errors.New("timed out waiting for authorization")
	ErrAlreadyConnecting = errors.New("a connection attempt is already in progress")
	ErrListenerClosed    = errors.New("relay connection closed before authorization finished")
	ErrUnsupported       = errors.New("channel type does not connect through oauth")
)

// ProviderError carries the failure text reported by the provider or the
// relay page, unchanged.
type ProviderError struct {
	Provider string
	Text     string
}

func (e *ProviderError) Error() string {
	return e.Provider + " authorization failed: " + e.Text
}

// URLSource returns the provider authorization URL for an attempt.
type URLSource interface {
	AuthURL(ctx context.Context, provider, state string) (string, error)
}

// Window is an opened authorization window.
type Window interface {
	Close() error
}

// Launcher opens a window at url.
type Launcher interface {
	Open(ctx context.Context, url string) (Window, error)
}

// Source delivers relay envelopes for one attempt until stop is called.
type Source interface {
	Listen(ctx context.Context, state string) (<-chan relay.Envelope, func(), error)
}

// Registry records a successful connection.
type Registry interface {
	Create(ctx context.Context, channelType models.ChannelType, displayName string, creds models.Credentials) (*models.ChannelConnection, error)
}

// Coordinator runs connect attempts for one provider. Overlapping attempts
// are rejected with ErrAlreadyConnecting.
type Coordinator struct {
	provider models.ChannelType
	urls     URLSource
	launcher Launcher
	source   Source
	registry Registry
	notifier Notifier
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
	newState func() string

	mu         sync.Mutex
	connecting bool
	state      State
	last       *Attempt
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithNotifier sets where user-facing outcomes are reported.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithStateGenerator replaces the random attempt state.
func WithStateGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newState = fn }
}

// NewCoordinator creates a coordinator for an OAuth channel type.
func NewCoordinator(provider models.ChannelType, urls URLSource, launcher Launcher, source Source, registry Registry, opts ...Option) (*Coordinator, error) {
	if !provider.UsesOAuth() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, provider)
	}
	c := &Coordinator{
		provider: provider,
		urls:     urls,
		launcher: launcher,
		source:   source,
		registry: registry,
		timeout:  DefaultTimeout,
		newState: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "connect", "provider", string(provider))
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	return c, nil
}

// Provider returns the channel type this coordinator connects.
func (c *Coordinator) Provider() models.ChannelType {
	return c.provider
}

// State returns the state of the current or most recent attempt.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastAttempt returns a copy of the most recent attempt record.
func (c *Coordinator) LastAttempt() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Attempt{}, false
	}
	return *c.last, true
}

// Connect runs one attempt to completion. The listener is removed and the
// window closed on every return path.
func (c *Coordinator) Connect(ctx context.Context) (*models.ChannelConnection, error) {
	if _, err := auth.RequireSession(ctx); err != nil {
		return nil, err
	}
	attempt, err := c.begin()
	if err != nil {
		c.metrics.ConnectOutcome(string(c.provider), "busy")
		return nil, err
	}
	ctx = observability.AddProvider(ctx, string(c.provider))

	conn, err := c.run(ctx, attempt)
	c.finish(ctx, attempt, conn, err)
	return conn, err
}

func (c *Coordinator) begin() (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connecting {
		return nil, ErrAlreadyConnecting
	}
	c.connecting = true
	attempt := &Attempt{
		State:     c.newState(),
		Provider:  c.provider,
		Phase:     StateAwaitingPopup,
		StartedAt: time.Now(),
	}
	c.last = attempt
	c.state = StateAwaitingPopup
	return attempt, nil
}

func (c *Coordinator) setPhase(attempt *Attempt, phase State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attempt.Phase = phase
	c.state = phase
}

func (c *Coordinator) run(ctx context.Context, attempt *Attempt) (*models.ChannelConnection, error) {
	provider := string(c.provider)

	authURL, err := c.urls.AuthURL(ctx, provider, attempt.State)
	if err != nil {
		return nil, fmt.Errorf("get authorization url: %w", err)
	}

	// The listener exists before the window opens so an immediate
	// callback cannot be missed.
	envelopes, stop, err := c.source.Listen(ctx, attempt.State)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	defer stop()

	opened, err := c.launcher.Open(ctx, authURL)
	if err != nil {
		if errors.Is(err, ErrPopupBlocked) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	window := newOnceWindow(opened)
	defer window.Close()

	c.mu.Lock()
	attempt.OpenedAt = time.Now()
	c.mu.Unlock()
	c.setPhase(attempt, StateAwaitingCallback)
	c.logger.InfoContext(ctx, "waiting for authorization", "timeout", c.timeout)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrTimeout
		case env, ok := <-envelopes:
			if !ok {
				return nil, ErrListenerClosed
			}
			if env.State != attempt.State {
				continue
			}
			switch {
			case env.IsError(provider):
				return nil, &ProviderError{Provider: provider, Text: env.Error}
			case env.IsCallback(provider):
				if env.AccessToken == "" {
					return nil, ErrMissingToken
				}
				conn, err := c.registry.Create(ctx, c.provider, c.displayName(env), c.credentials(env))
				if err != nil {
					return nil, fmt.Errorf("record connection: %w", err)
				}
				window.Close()
				return conn, nil
			}
		}
	}
}

func (c *Coordinator) displayName(env relay.Envelope) string {
	if env.IdentityName != "" {
		return env.IdentityName
	}
	return channels.DefaultDisplayName(c.provider)
}

func (c *Coordinator) credentials(env relay.Envelope) models.Credentials {
	creds := models.Credentials{AccessToken: env.AccessToken, RefreshToken: env.RefreshToken}
	switch c.provider {
	case models.ChannelSlack:
		creds.Slack = &models.SlackCredentials{TeamID: env.IdentityID, TeamName: env.IdentityName}
	case models.ChannelDiscord:
		creds.Discord = &models.DiscordCredentials{UserID: env.IdentityID, Username: env.IdentityName}
	}
	return creds
}

func (c *Coordinator) finish(ctx context.Context, attempt *Attempt, conn *models.ChannelConnection, err error) {
	phase := StateConnected
	switch {
	case errors.Is(err, ErrTimeout):
		phase = StateTimedOut
	case err != nil:
		phase = StateFailed
	}

	c.mu.Lock()
	attempt.Phase = phase
	attempt.FinishedAt = time.Now()
	attempt.Err = err
	attempt.Connection = conn
	c.state = phase
	c.connecting = false
	c.mu.Unlock()

	outcome := outcomeLabel(err)
	c.metrics.ConnectOutcome(string(c.provider), outcome)
	if err != nil {
		c.logger.WarnContext(ctx, "connect attempt failed", "outcome", outcome, "error", err)
	} else {
		c.logger.InfoContext(ctx, "channel connected", "channel_id", conn.ID)
	}
	c.notifier.Notify(ctx, notificationFor(c.provider, conn, err))
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "connected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPopupBlocked):
		return "popup_blocked"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	default:
		return "failed"
	}
}

// onceWindow makes Close idempotent.
type onceWindow struct {
	window Window
	once   sync.Once
	err    error
}

func newOnceWindow(w Window) *onceWindow {
	return &onceWindow{window: w}
}

func (w *onceWindow) Close() error {
	w.once.Do(func() {
		if w.window != nil {
			w.err = w.window.Close()
		}
	})
	return w.err
}
