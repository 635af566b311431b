// Package inbox implements the unified message store operations and the
// thread view on top of storage.MessageStore.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/observability"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrEmptyContent = errors.New("reply content is required")
	ErrInvalidView  = errors.New("invalid view")
	ErrReplyTooLong = errors.New("reply too long")
)

const maxReplyLength = 40000

// View selects which messages a listing shows.
type View string

const (
	ViewAll      View = "all"
	ViewUnread   View = "unread"
	ViewStarred  View = "starred"
	ViewArchived View = "archived"
)

// ParseView validates a view name. Empty means ViewAll.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ViewAll, nil
	case ViewAll, ViewUnread, ViewStarred, ViewArchived:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
}

// Query describes a listing. Filters are applied before grouping.
type Query struct {
	View      View
	ChannelID string
	Search    string
	Limit     int
}

func (q Query) filter(userID string) (storage.MessageFilter, error) {
	view, err := ParseView(string(q.View))
	if err != nil {
		return storage.MessageFilter{}, err
	}
	f := storage.MessageFilter{
		UserID:    userID,
		ChannelID: q.ChannelID,
		Search:    q.Search,
		Limit:     q.Limit,
	}
	switch view {
	case ViewUnread:
		f.Status = models.StatusUnread
	case ViewStarred:
		f.StarredOnly = true
		f.ExcludeArchived = true
	case ViewArchived:
		f.Status = models.StatusArchived
	}
	return f, nil
}

// Service applies status transitions, replies and starring for the
// session's user. The store is the only copy of message state: callers
// see a change only after the store has accepted it.
type Service struct {
	store     storage.MessageStore
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event sink notified after each committed write.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for new messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService creates an inbox service over store.
func NewService(store storage.MessageStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "inbox")
	return s
}

// Get returns a message owned by the session user.
func (s *Service) Get(ctx context.Context, id string) (*models.Message, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.owned(ctx, session.UserID, id)
}

func (s *Service) owned(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.UserID != userID {
		return nil, ErrNotFound
	}
	return msg, nil
}

// List returns the session user's messages matching q, newest first.
func (s *Service) List(ctx context.Context, q Query) ([]*models.Message, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := q.filter(session.UserID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Threads groups the filtered listing. Replies filtered out of q do not
// appear under their root, and replies whose root is filtered out are
// dropped.
func (s *Service) Threads(ctx context.Context, q Query) ([]Thread, error) {
	msgs, err := s.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return Group(msgs), nil
}

// MarkRead moves an unread message to read. Any other status is left
// alone, so calling it repeatedly is harmless.
func (s *Service) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	return s.transition(ctx, id, models.StatusRead)
}

// Archive moves a message to archived. Archiving an archived message is a
// no-op.
func (s *Service) Archive(ctx context.Context, id string) (*models.Message, error) {
	return s.transition(ctx, id, models.StatusArchived)
}

func (s *Service) transition(ctx context.Context, id string, to models.MessageStatus) (*models.Message, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, session.UserID, id); err != nil {
		return nil, err
	}
	changed, err := s.store.UpdateStatus(ctx, id, models.TransitionSources(to), to)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	msg, err := s.owned(ctx, session.UserID, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.Transition(string(to))
		s.publish(EventMessageUpdated, msg, nil)
	}
	return msg, nil
}

// Star sets or clears the starred flag. Status is never touched.
func (s *Service) Star(ctx context.Context, id string, starred bool) (*models.Message, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, session.UserID, id)
	if err != nil {
		return nil, err
	}
	if current.Starred == starred {
		return current, nil
	}
	if err := s.store.SetStarred(ctx, id, starred); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set starred: %w", err)
	}
	msg, err := s.owned(ctx, session.UserID, id)
	if err != nil {
		return nil, err
	}
	s.publish(EventMessageUpdated, msg, nil)
	return msg, nil
}

// Reply records a reply from the session user to message id. The reply
// joins the parent's thread (or starts one keyed by the parent id) and is
// born read. The parent becomes replied unless it is already archived.
// Both writes land together.
func (s *Service) Reply(ctx context.Context, id, content string) (*models.Message, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxReplyLength {
		return nil, fmt.Errorf("%w: exceeds %d characters", ErrReplyTooLong, maxReplyLength)
	}

	var promoted bool
	parent, reply, err := s.store.ApplyReply(ctx, id, func(parent *models.Message) (*models.Message, models.MessageStatus, error) {
		if parent.UserID != session.UserID {
			return nil, "", ErrNotFound
		}
		reply := &models.Message{
			ID:          s.newID(),
			UserID:      session.UserID,
			ChannelID:   parent.ChannelID,
			ChannelType: parent.ChannelType,
			SenderID:    session.UserID,
			SenderName:  senderName(session),
			Content:     content,
			Attachments: []models.Attachment{},
			Status:      models.StatusRead,
			ThreadID:    parent.ThreadKey(),
			ParentID:    parent.ID,
			CreatedAt:   s.now().UTC(),
		}
		status := parent.Status
		promoted = models.CanTransition(parent.Status, models.StatusReplied)
		if promoted {
			status = models.StatusReplied
		}
		return reply, status, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reply: %w", err)
	}

	if promoted {
		s.metrics.Transition(string(models.StatusReplied))
	}
	s.logger.InfoContext(ctx, "reply recorded", "message_id", reply.ID, "thread_id", reply.ThreadID)
	s.publish(EventMessageReplied, reply, parent)
	return reply, nil
}

// Ingest stores a message pulled from a provider. Messages that already
// exist for the same channel and external id are skipped; the result
// reports whether a new message was written.
func (s *Service) Ingest(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("message is required")
	}
	if msg.UserID == "" {
		return false, fmt.Errorf("message owner is required")
	}
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Status == "" {
		msg.Status = models.StatusUnread
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	if err := msg.Validate(); err != nil {
		return false, err
	}
	inserted, err := s.store.InsertIfAbsent(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("ingest message: %w", err)
	}
	if inserted {
		s.publish(EventMessageCreated, msg, nil)
	}
	return inserted, nil
}

func (s *Service) publish(kind EventType, msg, parent *models.Message) {
	if s.publisher == nil || msg == nil {
		return
	}
	s.publisher.Publish(Event{
		Type:      kind,
		UserID:    msg.UserID,
		Message:   msg,
		Parent:    parent,
		Timestamp: s.now().UTC(),
	})
}

func senderName(session *auth.Session) string {
	switch {
	case strings.TrimSpace(session.Name) != "":
		return session.Name
	case strings.TrimSpace(session.Email) != "":
		return session.Email
	default:
		return session.UserID
	}
}
