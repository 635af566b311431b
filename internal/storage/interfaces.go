package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/unibox/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
)

// ChannelStore persists channel connections.
type ChannelStore interface {
	Create(ctx context.Context, conn *models.ChannelConnection) error
	Get(ctx context.Context, id string) (*models.ChannelConnection, error)
	List(ctx context.Context, userID string) ([]*models.ChannelConnection, error)
	Update(ctx context.Context, conn *models.ChannelConnection) error
	Delete(ctx context.Context, id string) error
}

// MessageFilter narrows a message listing. Zero values match everything.
type MessageFilter struct {
	UserID          string
	ChannelID       string
	Status          models.MessageStatus
	ExcludeArchived bool
	StarredOnly     bool
	Search          string // case-insensitive match on content or sender name
	Limit           int
}

// ReplyFunc builds a reply for parent and returns the status the parent
// should move to. It runs while the store holds the parent exclusively.
type ReplyFunc func(parent *models.Message) (reply *models.Message, parentStatus models.MessageStatus, err error)

// MessageStore persists messages.
type MessageStore interface {
	Insert(ctx context.Context, msg *models.Message) error
	// InsertIfAbsent inserts msg unless a message with the same channel and
	// external id exists. It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, msg *models.Message) (bool, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	// List returns messages newest first.
	List(ctx context.Context, filter MessageFilter) ([]*models.Message, error)
	// UpdateStatus moves a message to `to` only when its current status is in
	// from. It reports whether the row changed.
	UpdateStatus(ctx context.Context, id string, from []models.MessageStatus, to models.MessageStatus) (bool, error)
	SetStarred(ctx context.Context, id string, starred bool) error
	// ApplyReply updates the parent status and inserts the reply as one unit.
	ApplyReply(ctx context.Context, parentID string, build ReplyFunc) (parent, reply *models.Message, err error)
}

// SettingsStore persists notification settings keyed by user.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*models.NotificationSettings, error)
	Upsert(ctx context.Context, settings *models.NotificationSettings) error
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
}

// TicketStore persists support tickets.
type TicketStore interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	List(ctx context.Context, userID string) ([]*models.Ticket, error)
	Update(ctx context.Context, ticket *models.Ticket) error
	Delete(ctx context.Context, id string) error
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Channels ChannelStore
	Messages MessageStore
	Settings SettingsStore
	Profiles ProfileStore
	Tickets  TicketStore
	closer   func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
