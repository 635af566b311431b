package relay

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

const subscriberBuffer = 4

// Bus fans envelopes out to the listeners of one connect attempt, keyed by
// state. Envelopes are accepted only from the pinned application origin.
type Bus struct {
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan Envelope
}

// NewBus creates a bus that trusts only origin.
func NewBus(origin string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		origin: NormalizeOrigin(origin),
		logger: logger.With("component", "relay_bus"),
		subs:   make(map[string]map[uint64]chan Envelope),
	}
}

// Origin returns the pinned origin.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers a listener for state. The returned func removes the
// listener and is safe to call more than once.
func (b *Bus) Subscribe(state string) (<-chan Envelope, func()) {
	ch := make(chan Envelope, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[state] == nil {
		b.subs[state] = make(map[uint64]chan Envelope)
	}
	b.subs[state][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[state], id)
			if len(b.subs[state]) == 0 {
				delete(b.subs, state)
			}
			b.mu.Unlock()
		})
	}
}

// Listen subscribes to state. It lets a Bus serve as an in-process
// envelope source.
func (b *Bus) Listen(_ context.Context, state string) (<-chan Envelope, func(), error) {
	ch, cancel := b.Subscribe(state)
	return ch, cancel, nil
}

// Publish delivers env to the listeners of env.State and returns how many
// received it. Envelopes from any other origin, without a state, or
// failing validation are dropped.
func (b *Bus) Publish(origin string, env Envelope) int {
	if NormalizeOrigin(origin) != b.origin {
		b.logger.Warn("dropping envelope from untrusted origin", "origin", origin)
		return 0
	}
	if env.State == "" {
		return 0
	}
	if err := env.Validate(); err != nil {
		b.logger.Warn("dropping malformed envelope", "error", err)
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for _, ch := range b.subs[env.State] {
		select {
		case ch <- env:
			delivered++
		default:
		}
	}
	return delivered
}

// Listeners reports the number of listeners for state.
func (b *Bus) Listeners(state string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[state])
}

// NormalizeOrigin reduces a URL or origin to lower-case scheme://host.
// Unparseable input returns "".
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
