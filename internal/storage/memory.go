package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/unibox/pkg/models"
)

func cloneConnection(conn *models.ChannelConnection) *models.ChannelConnection {
	out := *conn
	if conn.Credentials.Slack != nil {
		slack := *conn.Credentials.Slack
		out.Credentials.Slack = &slack
	}
	if conn.Credentials.Discord != nil {
		discord := *conn.Credentials.Discord
		out.Credentials.Discord = &discord
	}
	if conn.LastSyncAt != nil {
		at := *conn.LastSyncAt
		out.LastSyncAt = &at
	}
	return &out
}

// MemoryChannelStore provides an in-memory ChannelStore.
type MemoryChannelStore struct {
	mu          sync.RWMutex
	connections map[string]*models.ChannelConnection
}

// NewMemoryChannelStore creates an in-memory channel store.
func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{connections: make(map[string]*models.ChannelConnection)}
}

func (s *MemoryChannelStore) Create(ctx context.Context, conn *models.ChannelConnection) error {
	if conn == nil || conn.ID == "" {
		return fmt.Errorf("connection is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[conn.ID]; exists {
		return ErrAlreadyExists
	}
	s.connections[conn.ID] = cloneConnection(conn)
	return nil
}

func (s *MemoryChannelStore) Get(ctx context.Context, id string) (*models.ChannelConnection, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConnection(conn), nil
}

func (s *MemoryChannelStore) List(ctx context.Context, userID string) ([]*models.ChannelConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*models.ChannelConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		if userID != "" && conn.UserID != userID {
			continue
		}
		conns = append(conns, cloneConnection(conn))
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})
	return conns, nil
}

func (s *MemoryChannelStore) Update(ctx context.Context, conn *models.ChannelConnection) error {
	if conn == nil || conn.ID == "" {
		return fmt.Errorf("connection is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[conn.ID]; !exists {
		return ErrNotFound
	}
	s.connections[conn.ID] = cloneConnection(conn)
	return nil
}

func (s *MemoryChannelStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[id]; !exists {
		return ErrNotFound
	}
	delete(s.connections, id)
	return nil
}

// MemoryMessageStore provides an in-memory MessageStore. A single lock
// covers every message, so ApplyReply is observed as one update.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	external map[string]string // channel id + external id -> message id
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*models.Message),
		external: make(map[string]string),
	}
}

func externalKey(msg *models.Message) string {
	if msg.ExternalID == "" {
		return ""
	}
	return msg.ChannelID + "\x00" + msg.ExternalID
}

func (s *MemoryMessageStore) insertLocked(msg *models.Message) error {
	if _, exists := s.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	if key := externalKey(msg); key != "" {
		if _, exists := s.external[key]; exists {
			return ErrAlreadyExists
		}
		s.external[key] = msg.ID
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *MemoryMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(msg)
}

func (s *MemoryMessageStore) InsertIfAbsent(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil || msg.ID == "" {
		return false, fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := externalKey(msg); key != "" {
		if _, exists := s.external[key]; exists {
			return false, nil
		}
	}
	if err := s.insertLocked(msg); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) List(ctx context.Context, filter MessageFilter) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]*models.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if matchesFilter(msg, filter, search) {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(msg *models.Message, filter MessageFilter, search string) bool {
	if filter.UserID != "" && msg.UserID != filter.UserID {
		return false
	}
	if filter.ChannelID != "" && msg.ChannelID != filter.ChannelID {
		return false
	}
	if filter.Status != "" && msg.Status != filter.Status {
		return false
	}
	if filter.ExcludeArchived && msg.Status == models.StatusArchived {
		return false
	}
	if filter.StarredOnly && !msg.Starred {
		return false
	}
	if search != "" &&
		!strings.Contains(strings.ToLower(msg.Content), search) &&
		!strings.Contains(strings.ToLower(msg.SenderName), search) {
		return false
	}
	return true
}

func (s *MemoryMessageStore) UpdateStatus(ctx context.Context, id string, from []models.MessageStatus, to models.MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	for _, st := range from {
		if msg.Status == st {
			msg.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryMessageStore) SetStarred(ctx context.Context, id string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Starred = starred
	return nil
}

func (s *MemoryMessageStore) ApplyReply(ctx context.Context, parentID string, build ReplyFunc) (*models.Message, *models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[parentID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	reply, status, err := build(stored.Clone())
	if err != nil {
		return nil, nil, err
	}
	if reply == nil || reply.ID == "" {
		return nil, nil, fmt.Errorf("reply is required")
	}
	if err := s.insertLocked(reply); err != nil {
		return nil, nil, err
	}
	stored.Status = status
	return stored.Clone(), reply.Clone(), nil
}

// MemorySettingsStore provides an in-memory SettingsStore.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]*models.NotificationSettings
}

// NewMemorySettingsStore creates an in-memory settings store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{settings: make(map[string]*models.NotificationSettings)}
}

func (s *MemorySettingsStore) Get(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *settings
	out.MutedChannels = append([]string{}, settings.MutedChannels...)
	return &out, nil
}

func (s *MemorySettingsStore) Upsert(ctx context.Context, settings *models.NotificationSettings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("settings are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *settings
	stored.MutedChannels = append([]string{}, settings.MutedChannels...)
	s.settings[settings.UserID] = &stored
	return nil
}

// MemoryProfileStore provides an in-memory ProfileStore.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
}

// NewMemoryProfileStore creates an in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*models.Profile)}
}

func (s *MemoryProfileStore) Get(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *profile
	return &out, nil
}

func (s *MemoryProfileStore) Upsert(ctx context.Context, profile *models.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("profile is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *profile
	s.profiles[profile.UserID] = &stored
	return nil
}

// MemoryTicketStore provides an in-memory TicketStore.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

// NewMemoryTicketStore creates an in-memory ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]*models.Ticket)}
}

func (s *MemoryTicketStore) Create(ctx context.Context, ticket *models.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("ticket is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[ticket.ID]; exists {
		return ErrAlreadyExists
	}
	stored := *ticket
	s.tickets[ticket.ID] = &stored
	return nil
}

func (s *MemoryTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *ticket
	return &out, nil
}

func (s *MemoryTicketStore) List(ctx context.Context, userID string) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if userID != "" && ticket.UserID != userID {
			continue
		}
		cp := *ticket
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryTicketStore) Update(ctx context.Context, ticket *models.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("ticket is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[ticket.ID]; !exists {
		return ErrNotFound
	}
	stored := *ticket
	s.tickets[ticket.ID] = &stored
	return nil
}

func (s *MemoryTicketStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[id]; !exists {
		return ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

// NewMemoryStores constructs a StoreSet backed by memory.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Channels: NewMemoryChannelStore(),
		Messages: NewMemoryMessageStore(),
		Settings: NewMemorySettingsStore(),
		Profiles: NewMemoryProfileStore(),
		Tickets:  NewMemoryTicketStore(),
	}
}
