package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the kind of participant on a conversation.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleCompany Role = "company"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleCompany:
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a conversation. Conversations
// are never hard-deleted; closed ones remain readable.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
	StatusClosed   ConversationStatus = "closed"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusClosed:
		return true
	}
	return false
}

// Participant is one side of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Conversation links exactly two participants. Participant fields are
// immutable after creation; only status and the last-message preview change.
type Conversation struct {
	ID                  uuid.UUID          `db:"id" json:"id"`
	InitiatorID         string             `db:"initiator_id" json:"initiator_id"`
	InitiatorRole       Role               `db:"initiator_role" json:"initiator_role"`
	CounterpartID       string             `db:"counterpart_id" json:"counterpart_id"`
	CounterpartRole     Role               `db:"counterpart_role" json:"counterpart_role"`
	Status              ConversationStatus `db:"status" json:"status"`
	LastMessageBody     *string            `db:"last_message_body" json:"last_message_body,omitempty"`
	LastMessageSenderID *string            `db:"last_message_sender_id" json:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time         `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// Counterpart returns the other participant from the perspective of userID.
func (c *Conversation) Counterpart(userID string) Participant {
	if c.InitiatorID == userID {
		return Participant{ID: c.CounterpartID, Role: c.CounterpartRole}
	}
	return Participant{ID: c.InitiatorID, Role: c.InitiatorRole}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.CounterpartID == userID
}

// IndexEntry is a denormalized per-participant row used to list a user's
// conversations without scanning the conversation table. One row per
// participant; rebuilt from the conversation record by the repair pass.
type IndexEntry struct {
	UserID         string    `db:"user_id" json:"user_id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	Role           Role      `db:"role" json:"role"`
	CounterpartID  string    `db:"counterpart_id" json:"counterpart_id"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// MessageType tags message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// MessageStatus tracks delivery state. The only transition is sent -> read.
type MessageStatus string

const (
	MessageSent MessageStatus = "sent"
	MessageRead MessageStatus = "read"
)

// Message is an append-only record inside a conversation. Seq is assigned by
// the store at append time and defines the retrieval order; client clocks
// play no part in ordering.
type Message struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ConversationID uuid.UUID     `db:"conversation_id" json:"conversation_id"`
	Seq            int64         `db:"seq" json:"seq"`
	SenderID       string        `db:"sender_id" json:"sender_id"`
	Content        string        `db:"content" json:"content"`
	Type           MessageType   `db:"msg_type" json:"type"`
	Status         MessageStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// previewMaxLen bounds the conversation preview stored alongside the
// conversation record.
const previewMaxLen = 120

// Preview derives the conversation list preview for a message. Non-text
// messages collapse to a tag so the list never renders raw payloads.
func Preview(content string, t MessageType) string {
	switch t {
	case MessageImage:
		return "[image]"
	case MessageFile:
		return "[file]"
	}
	runes := []rune(content)
	if len(runes) > previewMaxLen {
		return string(runes[:previewMaxLen])
	}
	return content
}
