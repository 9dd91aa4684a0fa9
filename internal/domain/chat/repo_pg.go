package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Conversation Repository ===========

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const conversationCols = `id, initiator_id, initiator_role, counterpart_id, counterpart_role,
	status, last_message_body, last_message_sender_id, last_message_at, created_at, updated_at`

func (r *conversationRepoPG) scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.InitiatorID, &c.InitiatorRole, &c.CounterpartID, &c.CounterpartRole,
		&c.Status, &c.LastMessageBody, &c.LastMessageSenderID, &c.LastMessageAt,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *conversationRepoPG) Create(ctx context.Context, c *Conversation) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conversation (id, initiator_id, initiator_role, counterpart_id,
			counterpart_role, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.InitiatorID, c.InitiatorRole, c.CounterpartID,
		c.CounterpartRole, c.Status)
	return err
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return r.scanConversation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation WHERE id = $1`, id))
}

func (r *conversationRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status ConversationStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation SET status=$2, updated_at=NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepoPG) UpdatePreview(ctx context.Context, id uuid.UUID, body, senderID string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation SET last_message_body=$2, last_message_sender_id=$3,
			last_message_at=$4, updated_at=NOW()
		WHERE id = $1`, id, body, senderID, at)
	return err
}

// =========== Index Repository ===========

type indexRepoPG struct{ pool *pgxpool.Pool }

func NewIndexRepoPG(pool *pgxpool.Pool) IndexRepository {
	return &indexRepoPG{pool: pool}
}

func (r *indexRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *indexRepoPG) Upsert(ctx context.Context, e *IndexEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conversation_index (user_id, conversation_id, role, counterpart_id, last_activity_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			role = EXCLUDED.role,
			counterpart_id = EXCLUDED.counterpart_id,
			last_activity_at = GREATEST(conversation_index.last_activity_at, EXCLUDED.last_activity_at)`,
		e.UserID, e.ConversationID, e.Role, e.CounterpartID, e.LastActivityAt)
	return err
}

func (r *indexRepoPG) ListByUser(ctx context.Context, userID string) ([]*IndexEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT user_id, conversation_id, role, counterpart_id, last_activity_at
		FROM conversation_index
		WHERE user_id = $1
		ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.UserID, &e.ConversationID, &e.Role, &e.CounterpartID, &e.LastActivityAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *indexRepoPG) TouchActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation_index SET last_activity_at=$2
		WHERE conversation_id = $1 AND last_activity_at < $2`, conversationID, at)
	return err
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const messageCols = `id, conversation_id, seq, sender_id, content, msg_type, status, created_at`

func (r *messageRepoPG) Append(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	// seq comes from the table's sequence; arrival order at the store wins
	// over whatever clock the sender had.
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, conversation_id, sender_id, content, msg_type, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING seq, created_at`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.Status,
	).Scan(&m.Seq, &m.CreatedAt)
}

func (r *messageRepoPG) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	// Most recent window, returned oldest-first.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM (
			SELECT `+messageCols+` FROM message
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Content,
			&m.Type, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, conversationID uuid.UUID, readerID string) (int64, error) {
	// One batched update; re-running it matches zero rows, so retries are
	// harmless.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET status=$3
		WHERE conversation_id = $1 AND sender_id <> $2 AND status = $4`,
		conversationID, readerID, MessageRead, MessageSent)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
