package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/realtime"
)

// Service implements conversation lifecycle, message delivery, and read
// tracking. Conversation creation writes the conversation record and the two
// index rows sequentially, without a surrounding transaction; readers
// tolerate a stale index and ReconcileIndex rebuilds it on demand.
type Service struct {
	conversations ConversationRepository
	index         IndexRepository
	messages      MessageRepository
	broker        *Broker
	publisher     realtime.EventPublisher
	logger        zerolog.Logger
}

func NewService(
	conversations ConversationRepository,
	index IndexRepository,
	messages MessageRepository,
	broker *Broker,
	publisher realtime.EventPublisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		conversations: conversations,
		index:         index,
		messages:      messages,
		broker:        broker,
		publisher:     publisher,
		logger:        logger,
	}
}

// InitializeConversation creates a conversation between two participants and
// registers it in both participants' indexes.
func (s *Service) InitializeConversation(ctx context.Context, initiator, counterpart Participant) (uuid.UUID, error) {
	if initiator.ID == "" || counterpart.ID == "" {
		return uuid.Nil, fmt.Errorf("%w: participant identifiers are required", ErrCreation)
	}
	if initiator.ID == counterpart.ID {
		return uuid.Nil, fmt.Errorf("%w: participants must be distinct", ErrCreation)
	}
	if !initiator.Role.Valid() || !counterpart.Role.Valid() {
		return uuid.Nil, fmt.Errorf("%w: invalid participant role", ErrCreation)
	}

	conv := &Conversation{
		InitiatorID:     initiator.ID,
		InitiatorRole:   initiator.Role,
		CounterpartID:   counterpart.ID,
		CounterpartRole: counterpart.Role,
		Status:          StatusActive,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		s.logger.Error().Err(err).Msg("create conversation")
		return uuid.Nil, fmt.Errorf("%w: %v", ErrCreation, err)
	}

	// Index writes are best-effort: a failure here leaves the conversation
	// reachable by ID and is healed by ReconcileIndex.
	now := time.Now().UTC()
	for _, e := range indexEntriesFor(conv, now) {
		if err := s.index.Upsert(ctx, e); err != nil {
			s.logger.Error().Err(err).
				Str("conversation_id", conv.ID.String()).
				Str("user_id", e.UserID).
				Msg("write conversation index")
		}
	}

	return conv.ID, nil
}

// ListUserConversations returns the user's conversations, most recent
// activity first. Index rows whose conversation record is missing are
// skipped rather than failing the listing.
func (s *Service) ListUserConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	entries, err := s.index.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversation index: %w", err)
	}

	conversations := make([]*Conversation, 0, len(entries))
	for _, e := range entries {
		conv, err := s.conversations.GetByID(ctx, e.ConversationID)
		if err == ErrNotFound {
			s.logger.Warn().
				Str("conversation_id", e.ConversationID.String()).
				Str("user_id", userID).
				Msg("stale index entry, conversation missing")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve conversation %s: %w", e.ConversationID, err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// GetConversation fetches a single conversation by ID.
func (s *Service) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return s.conversations.GetByID(ctx, id)
}

// UpdateStatus transitions a conversation's lifecycle state. Authorization
// is the caller's concern.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status ConversationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %s", status)
	}
	return s.conversations.UpdateStatus(ctx, id, status)
}

// SendMessage appends a message, refreshes the conversation preview and
// index activity, and fans the message out to live subscribers. The append
// is the one write that must succeed; follow-up writes are logged on failure
// and repaired by later activity.
func (s *Service) SendMessage(ctx context.Context, conversationID uuid.UUID, senderID, content string, t MessageType) (*Message, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: sender id is required", ErrDelivery)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrDelivery)
	}
	if t == "" {
		t = MessageText
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: invalid message type %q", ErrDelivery, t)
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: sender is not a participant", ErrDelivery)
	}

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           t,
		Status:         MessageSent,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("append message")
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	preview := Preview(content, t)
	if err := s.conversations.UpdatePreview(ctx, conversationID, preview, senderID, msg.CreatedAt); err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("update conversation preview")
	}
	if err := s.index.TouchActivity(ctx, conversationID, msg.CreatedAt); err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("touch index activity")
	}

	s.broker.Publish(msg)
	s.publishEvent(ctx, "message.created", realtime.ConversationTopic(conversationID), msg)

	return msg, nil
}

// Messages returns the most recent limit messages in ascending append order.
// A non-positive limit yields an empty result.
func (s *Service) Messages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}
	msgs, err := s.messages.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

// Subscribe opens a live feed of messages appended to the conversation after
// this call. The caller must Close the subscription when done.
func (s *Service) Subscribe(conversationID uuid.UUID) *Subscription {
	return s.broker.Subscribe(conversationID)
}

// MarkMessagesAsRead flips every sent message not authored by readerID to
// read, in one batched update. Re-running it is a no-op.
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationID uuid.UUID, readerID string) error {
	if readerID == "" {
		return fmt.Errorf("reader id is required")
	}

	updated, err := s.messages.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("mark messages read")
		return fmt.Errorf("mark messages read: %w", err)
	}

	if updated > 0 {
		s.publishEvent(ctx, "messages.read", realtime.ConversationTopic(conversationID), map[string]interface{}{
			"conversation_id": conversationID,
			"reader_id":       readerID,
			"updated":         updated,
		})
	}
	return nil
}

// ReconcileIndex re-derives both participants' index rows from the
// conversation record. Idempotent; safe to run repeatedly.
func (s *Service) ReconcileIndex(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	activity := conv.UpdatedAt
	if conv.LastMessageAt != nil && conv.LastMessageAt.After(activity) {
		activity = *conv.LastMessageAt
	}

	for _, e := range indexEntriesFor(conv, activity) {
		if err := s.index.Upsert(ctx, e); err != nil {
			return fmt.Errorf("reconcile index for %s: %w", e.UserID, err)
		}
	}
	return nil
}

func indexEntriesFor(conv *Conversation, activity time.Time) []*IndexEntry {
	return []*IndexEntry{
		{
			UserID:         conv.InitiatorID,
			ConversationID: conv.ID,
			Role:           conv.InitiatorRole,
			CounterpartID:  conv.CounterpartID,
			LastActivityAt: activity,
		},
		{
			UserID:         conv.CounterpartID,
			ConversationID: conv.ID,
			Role:           conv.CounterpartRole,
			CounterpartID:  conv.InitiatorID,
			LastActivityAt: activity,
		},
	}
}

func (s *Service) publishEvent(ctx context.Context, eventType, topic string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		return
	}
	evt := realtime.Event{
		Type:      eventType,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}
