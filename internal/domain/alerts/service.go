package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/cache"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/realtime"
)

// snapshotLimit caps how many alerts a pushed feed snapshot carries. Older
// alerts stay reachable through the paginated listing.
const snapshotLimit = 100

// Directory resolves a user ID to an email address for out-of-band delivery.
type Directory interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// Service owns the notification feed: alert creation with category
// derivation, monotonic read flags, unread counters, and grouped snapshot
// fan-out to live subscribers.
type Service struct {
	repo      Repository
	broker    *Broker
	publisher realtime.EventPublisher
	unread    cache.Counter
	notifier  *notification.Manager
	directory Directory
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	broker *Broker,
	publisher realtime.EventPublisher,
	unread cache.Counter,
	notifier *notification.Manager,
	directory Directory,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		broker:    broker,
		publisher: publisher,
		unread:    unread,
		notifier:  notifier,
		directory: directory,
		logger:    logger,
	}
}

// Create stores a new alert and pushes a fresh feed snapshot to the
// recipient's subscribers. The category is always derived from the alert
// type; whatever the caller set is overwritten.
func (s *Service) Create(ctx context.Context, a *Alert) error {
	if a.RecipientID == "" {
		return fmt.Errorf("%w: recipient id is required", ErrCreation)
	}
	if a.Type == "" {
		return fmt.Errorf("%w: alert type is required", ErrCreation)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: title is required", ErrCreation)
	}

	a.Category = CategoryForType(a.Type)
	a.Read = false

	if err := s.repo.Create(ctx, a); err != nil {
		s.logger.Error().Err(err).Str("recipient_id", a.RecipientID).Msg("create alert")
		return fmt.Errorf("%w: %v", ErrCreation, err)
	}

	if _, err := s.unread.Incr(ctx, a.RecipientID); err != nil {
		s.logger.Error().Err(err).Str("recipient_id", a.RecipientID).Msg("increment unread counter")
	}

	s.pushSnapshot(ctx, a.RecipientID)
	s.publishEvent(ctx, "alert.created", realtime.AlertTopic(a.RecipientID), a)

	if a.IsUrgent {
		s.sendUrgentEmail(ctx, a)
	}
	return nil
}

// Subscribe opens a live feed for the recipient and pushes the current
// snapshot so new subscribers start from a known state.
func (s *Service) Subscribe(ctx context.Context, recipientID string) (*Subscription, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient id is required", ErrSubscription)
	}

	sub := s.broker.Subscribe(recipientID)
	feed, err := s.snapshot(ctx, recipientID)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	s.broker.Publish(feed)
	return sub, nil
}

// MarkAlertAsRead flips the alert's read flag. The flip is one-way: repeat
// calls do nothing, and the unread counter moves only when this call actually
// changed state.
func (s *Service) MarkAlertAsRead(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	changed, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	if !changed {
		return nil
	}

	if _, err := s.unread.Decr(ctx, a.RecipientID); err != nil {
		s.logger.Error().Err(err).Str("recipient_id", a.RecipientID).Msg("decrement unread counter")
	}

	s.pushSnapshot(ctx, a.RecipientID)
	s.publishEvent(ctx, "alert.read", realtime.AlertTopic(a.RecipientID), map[string]interface{}{
		"alert_id":     id,
		"recipient_id": a.RecipientID,
	})
	return nil
}

// Get fetches one alert by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByRecipient returns a page of the recipient's alerts, newest first.
func (s *Service) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Alert, int, error) {
	items, total, err := s.repo.ListByRecipient(ctx, recipientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	if items == nil {
		items = []*Alert{}
	}
	return items, total, nil
}

// UnreadCount serves the counter from cache and falls back to the store when
// the cache is unavailable.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.unread.Get(ctx, recipientID)
	if err == nil {
		return n, nil
	}
	s.logger.Warn().Err(err).Str("recipient_id", recipientID).Msg("unread counter cache miss, using store")
	return s.repo.CountUnread(ctx, recipientID)
}

// Feed returns the recipient's current grouped snapshot.
func (s *Service) Feed(ctx context.Context, recipientID string) (*Feed, error) {
	return s.snapshot(ctx, recipientID)
}

func (s *Service) snapshot(ctx context.Context, recipientID string) (*Feed, error) {
	items, _, err := s.repo.ListByRecipient(ctx, recipientID, snapshotLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("build feed snapshot: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	return &Feed{
		RecipientID: recipientID,
		Groups:      GroupAlerts(items),
		UnreadCount: unread,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) pushSnapshot(ctx context.Context, recipientID string) {
	if s.broker.SubscriberCount(recipientID) == 0 {
		return
	}
	feed, err := s.snapshot(ctx, recipientID)
	if err != nil {
		s.logger.Error().Err(err).Str("recipient_id", recipientID).Msg("push feed snapshot")
		return
	}
	s.broker.Publish(feed)
}

func (s *Service) sendUrgentEmail(ctx context.Context, a *Alert) {
	if s.notifier == nil || s.directory == nil {
		return
	}
	email, err := s.directory.EmailFor(ctx, a.RecipientID)
	if err != nil || email == "" {
		s.logger.Warn().Err(err).Str("recipient_id", a.RecipientID).Msg("no email for urgent alert")
		return
	}
	if _, err := s.notifier.SendFromTemplate(ctx, "urgent-alert", map[string]string{
		"title":          a.Title,
		"body":           a.Body,
		"recipient_name": a.RecipientID,
	}, email); err != nil {
		s.logger.Error().Err(err).Str("recipient_id", a.RecipientID).Msg("send urgent alert email")
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
