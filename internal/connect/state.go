package connect

import (
	"time"

	"github.com/haasonsaas/unibox/pkg/models"
)

// State is the phase of a connect attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingPopup
	StateAwaitingCallback
	StateConnected
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPopup:
		return "awaiting_popup"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateConnected || s == StateFailed || s == StateTimedOut
}

// Attempt records one Connect call.
type Attempt struct {
	// State is the opaque value that ties relay envelopes to this attempt.
	State      string
	Provider   models.ChannelType
	Phase      State
	StartedAt  time.Time
	OpenedAt   time.Time
	FinishedAt time.Time
	Err        error
	Connection *models.ChannelConnection
}

// Duration is the time from start to finish, or zero while running.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
