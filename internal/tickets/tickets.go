// Package tickets manages user support tickets.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

var (
	ErrNotFound      = errors.New("ticket not found")
	ErrTitleRequired = errors.New("ticket title is required")
	ErrInvalidTicket = errors.New("invalid ticket")
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
)

// CreateRequest describes a new ticket. Priority defaults to medium.
type CreateRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    models.TicketPriority `json:"priority,omitempty"`
}

// UpdateRequest is a partial ticket change.
type UpdateRequest struct {
	Title       *string                `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	Status      *models.TicketStatus   `json:"status,omitempty"`
	Priority    *models.TicketPriority `json:"priority,omitempty"`
}

// Service manages the session user's tickets.
type Service struct {
	store  storage.TicketStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store storage.TicketStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "tickets"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create opens a ticket for the session user.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ticket, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	now := s.now().UTC()
	ticket := &models.Ticket{
		ID:          s.newID(),
		UserID:      session.UserID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      models.TicketOpen,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validate(ticket); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.logger.InfoContext(ctx, "ticket created", "ticket_id", ticket.ID, "priority", ticket.Priority)
	return ticket, nil
}

// List returns the session user's tickets, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Ticket, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, session.UserID)
}

// Get returns one of the session user's tickets.
func (s *Service) Get(ctx context.Context, id string) (*models.Ticket, error) {
	session, err := auth.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	ticket, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ticket.UserID != session.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return ticket, nil
}

// Update applies a partial change.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		ticket.Title = title
	}
	if req.Description != nil {
		ticket.Description = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		ticket.Status = *req.Status
	}
	if req.Priority != nil {
		ticket.Priority = *req.Priority
	}
	if err := validate(ticket); err != nil {
		return nil, err
	}
	ticket.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	return ticket, nil
}

// Delete removes one of the session user's tickets.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func validate(ticket *models.Ticket) error {
	if len(ticket.Title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidTicket, maxTitleLength)
	}
	if len(ticket.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidTicket, maxDescriptionLength)
	}
	if err := ticket.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	return nil
}
