package alerts

import "sync"

// feedBuffer bounds each subscriber's channel. Snapshots supersede each
// other, so a dropped one only delays the subscriber until the next change.
const feedBuffer = 8

// Subscription is a live handle on one recipient's alert feed. Snapshots
// arrive on C; Close releases the handle and is safe to call more than once.
type Subscription struct {
	C <-chan *Feed

	ch     chan *Feed
	cancel func(*Subscription)
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel(s)
	})
}

// Broker fans feed snapshots out to per-recipient subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Subscription]struct{})}
}

func (b *Broker) Subscribe(recipientID string) *Subscription {
	sub := &Subscription{
		ch: make(chan *Feed, feedBuffer),
	}
	sub.C = sub.ch
	sub.cancel = func(s *Subscription) { b.remove(recipientID, s) }

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[recipientID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[recipientID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *Broker) remove(recipientID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[recipientID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, recipientID)
	}
	close(sub.ch)
}

// Publish delivers a snapshot to every subscriber of the feed's recipient.
// Full channels are skipped rather than blocking the publisher.
func (b *Broker) Publish(feed *Feed) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[feed.RecipientID] {
		select {
		case sub.ch <- feed:
		default:
		}
	}
}

func (b *Broker) SubscriberCount(recipientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[recipientID])
}
