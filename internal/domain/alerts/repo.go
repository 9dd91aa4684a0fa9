package alerts

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores alerts and answers feed queries.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// ListByRecipient returns a page of the recipient's alerts, newest first,
	// plus the total count.
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Alert, int, error)
	// MarkRead flips the alert to read and reports whether this call changed
	// anything. An already read alert yields (false, nil).
	MarkRead(ctx context.Context, id uuid.UUID) (bool, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
}
