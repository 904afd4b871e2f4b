package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Predecessors returns the statuses from which s can be reached by a forward step.
func (s MessageStatus) Predecessors() []MessageStatus {
	switch s {
	case MessageDelivered:
		return []MessageStatus{MessageSent}
	case MessageRead:
		return []MessageStatus{MessageSent, MessageDelivered}
	}
	return nil
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// Message is a persisted 1:1 chat message.
type Message struct {
	ID         string        `gorm:"primaryKey" json:"id"`
	SenderID   string        `gorm:"index;not null" json:"sender_id"`
	ReceiverID string        `gorm:"index;not null" json:"receiver_id"`
	Content    string        `json:"content"`
	ImageURL   *string       `json:"image_url,omitempty"`
	IsRead     bool          `gorm:"default:false" json:"is_read"`
	Status     MessageStatus `gorm:"default:sent;index" json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	DateSent   time.Time     `json:"date_sent"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// HasImage reports whether the message carries an attachment.
func (m *Message) HasImage() bool {
	return m.ImageURL != nil && *m.ImageURL != ""
}

// Preview returns the text shown in inbox and notification summaries.
func (m *Message) Preview() string {
	if m.Content == "" && m.HasImage() {
		return "[image]"
	}
	return m.Content
}
