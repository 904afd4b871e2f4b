package models

import "time"

// EventType tags every outbound event.
type EventType string

const (
	EventChatMessage  EventType = "chat_message"
	EventInboxUpdate  EventType = "inbox_update"
	EventNotification EventType = "notification"
	EventPresence     EventType = "presence"
	EventError        EventType = "error"
)

// Inbound frame kinds. An empty type is a content frame.
const (
	FrameContent          = "chat_message"
	FrameMessageRead      = "message_read"
	FrameMessageDelivered = "message_delivered"
)

// InboundFrame is what a client sends over a conversation connection.
type InboundFrame struct {
	Type      string  `json:"type,omitempty"`
	Message   *string `json:"message,omitempty"`
	ImageData *string `json:"image_data,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
}

// IsReceipt reports whether the frame is a status receipt.
func (f InboundFrame) IsReceipt() bool {
	return f.Type == FrameMessageRead || f.Type == FrameMessageDelivered
}

// IsContent reports whether the frame is a content frame.
func (f InboundFrame) IsContent() bool {
	return f.Type == "" || f.Type == FrameContent
}

// ReceiptStatus maps a receipt frame to the target status.
func (f InboundFrame) ReceiptStatus() MessageStatus {
	if f.Type == FrameMessageDelivered {
		return MessageDelivered
	}
	return MessageRead
}

// ChatMessageEvent is delivered on the conversation group.
type ChatMessageEvent struct {
	Type       EventType     `json:"type"`
	ID         string        `json:"id"`
	Message    string        `json:"message"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Status     MessageStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	ImageURL   *string       `json:"image_url"`
}

// InboxEvent summarizes a conversation for one side of it.
type InboxEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	ChatType       ChatType  `json:"chat_type"`
	PeerID         string    `json:"peer_id"`
	PeerName       string    `json:"peer_name"`
	PeerAvatar     string    `json:"peer_avatar,omitempty"`
	PeerOnline     bool      `json:"peer_online"`
	LastMessage    string    `json:"last_message"`
	HasImage       bool      `json:"has_image"`
	Unread         bool      `json:"unread"`
	MessageID      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// NotificationEvent alerts provider staff about a patient message.
type NotificationEvent struct {
	Type         EventType `json:"type"`
	MessageID    string    `json:"message_id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar,omitempty"`
	ChatType     ChatType  `json:"chat_type"`
	Preview      string    `json:"preview"`
	Timestamp    time.Time `json:"timestamp"`
}

// PresenceEvent carries only the online flag of one user.
type PresenceEvent struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Online bool      `json:"online"`
}

// ErrorEvent is sent only to the originating connection.
type ErrorEvent struct {
	Type  EventType `json:"type"`
	Code  string    `json:"code"`
	Error string    `json:"error"`
}

func NewChatMessageEvent(m *Message) ChatMessageEvent {
	return ChatMessageEvent{
		Type:       EventChatMessage,
		ID:         m.ID,
		Message:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Status:     m.Status,
		Timestamp:  m.DateSent,
		ImageURL:   m.ImageURL,
	}
}

func NewPresenceEvent(userID string, online bool) PresenceEvent {
	return PresenceEvent{Type: EventPresence, UserID: userID, Online: online}
}

func NewErrorEvent(code, msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Code: code, Error: msg}
}
