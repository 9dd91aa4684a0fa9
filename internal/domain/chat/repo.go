package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status ConversationStatus) error
	UpdatePreview(ctx context.Context, id uuid.UUID, body, senderID string, at time.Time) error
}

type IndexRepository interface {
	Upsert(ctx context.Context, e *IndexEntry) error
	ListByUser(ctx context.Context, userID string) ([]*IndexEntry, error)
	TouchActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	Append(ctx context.Context, m *Message) error
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID, readerID string) (int64, error)
}
