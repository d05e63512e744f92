package bus

import (
	"context"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity. Publishing never
// blocks: a subscriber that falls further behind than this has values dropped.
const subscriberBuffer = 64

// Event is a single value published on a topic.
type Event struct {
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data"`
	Time  time.Time      `json:"time"`
}

// Bus is an in-process publish/subscribe fan-out. Every subscriber of a topic
// receives every value published to it after subscription time; there is no
// replay. One Bus is constructed at startup and passed to every component
// that publishes or consumes domain events.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish delivers data to every current subscriber of topic. Within one
// topic, subscribers observe values in publish order.
func (b *Bus) Publish(topic string, data map[string]any) {
	evt := Event{Topic: topic, Data: data, Time: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- evt:
		default:
			// drop for this subscriber rather than block the publisher
		}
	}
}

// Subscribe registers a consumer for the given topics. The returned
// Subscription must be closed when the consumer is done.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		bus:    b,
		topics: topics,
		ch:     make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	for _, topic := range topics {
		m, ok := b.subs[topic]
		if !ok {
			m = make(map[*Subscription]struct{})
			b.subs[topic] = m
		}
		m[sub] = struct{}{}
	}
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of subscriptions currently registered
// for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range sub.topics {
		m, ok := b.subs[topic]
		if !ok {
			continue
		}
		delete(m, sub)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
	// Safe: Publish sends only while holding the same lock.
	close(sub.ch)
}

// Subscription is a cancellable stream of events. Consumers either range over
// C() or pull with Next. After Close, no further events are delivered.
type Subscription struct {
	bus    *Bus
	topics []string
	ch     chan Event
	once   sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Next blocks until an event arrives, the subscription is closed (ok=false),
// or ctx is done (ok=false).
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case evt, ok := <-s.ch:
		return evt, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close detaches the subscription from the bus and closes its channel.
// Idempotent, and safe against concurrent Publish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}
