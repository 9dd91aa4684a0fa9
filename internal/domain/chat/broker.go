package chat

import (
	"sync"

	"github.com/google/uuid"
)

// subscriptionBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events and should reconcile with
// Messages after catching up.
const subscriptionBuffer = 64

// Subscription is a live feed of messages appended to one conversation.
// Events arrive in append order. Close releases the subscription; the channel
// is closed afterwards.
type Subscription struct {
	C <-chan *Message

	ch     chan *Message
	cancel func()
	once   sync.Once
}

// Close tears down the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Broker fans newly appended messages out to in-process subscribers,
// per conversation.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[*Subscription]struct{})}
}

// Subscribe registers a listener for messages appended to conversationID
// after this call. Backlog is not replayed.
func (b *Broker) Subscribe(conversationID uuid.UUID) *Subscription {
	sub := &Subscription{ch: make(chan *Message, subscriptionBuffer)}
	sub.C = sub.ch
	sub.cancel = func() { b.remove(conversationID, sub) }

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*Subscription]struct{})
	}
	b.subs[conversationID][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Broker) remove(conversationID uuid.UUID, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.subs[conversationID]
	if !ok {
		return
	}
	if _, ok := subscribers[sub]; !ok {
		return
	}
	delete(subscribers, sub)
	if len(subscribers) == 0 {
		delete(b.subs, conversationID)
	}
	close(sub.ch)
}

// Publish delivers a message to every live subscriber of its conversation.
// Subscribers with a full buffer miss the event rather than blocking the
// sender.
func (b *Broker) Publish(m *Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[m.ConversationID] {
		select {
		case sub.ch <- m:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscribers for a conversation.
func (b *Broker) SubscriberCount(conversationID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
