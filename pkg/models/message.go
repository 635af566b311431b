package models

import (
	"fmt"
	"time"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	StatusUnread   MessageStatus = "unread"
	StatusRead     MessageStatus = "read"
	StatusReplied  MessageStatus = "replied"
	StatusArchived MessageStatus = "archived"
)

// ParseMessageStatus validates a status name.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch st := MessageStatus(s); st {
	case StatusUnread, StatusRead, StatusReplied, StatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

// transitions maps a target status to the statuses it may be entered from.
var transitions = map[MessageStatus][]MessageStatus{
	StatusRead:     {StatusUnread},
	StatusReplied:  {StatusUnread, StatusRead},
	StatusArchived: {StatusUnread, StatusRead, StatusReplied},
}

// TransitionSources returns the statuses from which to may be entered.
func TransitionSources(to MessageStatus) []MessageStatus {
	return append([]MessageStatus(nil), transitions[to]...)
}

// CanTransition reports whether a message in from may move to to.
// Archived is terminal.
func CanTransition(from, to MessageStatus) bool {
	for _, src := range transitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

// Message is a single message from any connected channel.
type Message struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	ChannelID    string        `json:"channel_id"`
	ChannelType  ChannelType   `json:"channel_type,omitempty"`
	ExternalID   string        `json:"external_id,omitempty"` // provider message id
	SenderID     string        `json:"sender_id,omitempty"`
	SenderName   string        `json:"sender_name"`
	SenderAvatar string        `json:"sender_avatar,omitempty"`
	Content      string        `json:"content"`
	Attachments  []Attachment  `json:"attachments"`
	Status       MessageStatus `json:"status"`
	Starred      bool          `json:"starred"`
	ThreadID     string        `json:"thread_id,omitempty"`
	ParentID     string        `json:"parent_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
}

// IsRoot reports whether the message starts a conversation.
func (m *Message) IsRoot() bool {
	return m.ParentID == ""
}

// IsReply reports whether the message is a non-root thread member.
func (m *Message) IsReply() bool {
	return m.ParentID != "" && m.ThreadID != ""
}

// ThreadKey is the id under which replies to this message are grouped.
func (m *Message) ThreadKey() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ID
}

// Validate checks the structural invariants of a message.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message is required")
	}
	if m.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if m.SenderName == "" {
		return fmt.Errorf("sender name is required")
	}
	if _, err := ParseMessageStatus(string(m.Status)); err != nil {
		return err
	}
	if m.ParentID != "" && m.ThreadID == "" {
		return fmt.Errorf("reply %s has no thread id", m.ID)
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return &out
}
