package inbox

import (
	"sync"
	"time"

	"github.com/haasonsaas/unibox/pkg/models"
)

// EventType names an inbox change.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageUpdated EventType = "message.updated"
	EventMessageReplied EventType = "message.replied"
)

// Event describes a committed inbox change. For EventMessageReplied,
// Message is the new reply and Parent is the parent after its update.
type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"user_id"`
	Message   *models.Message `json:"message"`
	Parent    *models.Message `json:"parent,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Publisher receives events after the store write succeeds.
type Publisher interface {
	Publish(event Event)
}

// Hub fans events out to per-user subscribers. Slow subscribers drop
// events rather than block writers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for userID's events. The returned func
// removes the listener and closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	listeners := h.subscribers[userID]
	if listeners == nil {
		listeners = make(map[chan Event]struct{})
		h.subscribers[userID] = listeners
	}
	listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if listeners := h.subscribers[userID]; listeners != nil {
				delete(listeners, ch)
				if len(listeners) == 0 {
					delete(h.subscribers, userID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers event to the owner's subscribers.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the number of listeners for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
