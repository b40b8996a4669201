package web

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultBusCapacity = 100

// EventBus broadcasts encoded events from the upstream listener to every
// subscriber. Each subscriber has its own bounded backlog; when it is full
// the oldest message is discarded so Publish never blocks.
//
// Publish and Subscribe are serialized, so every subscriber sees messages in
// publish order and a subscription never sees messages published before it
// was created.
type EventBus struct {
	mu       sync.Mutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	logger   *zap.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewEventBus creates a bus with the given per-subscriber backlog. A
// non-positive capacity uses DefaultBusCapacity.
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &EventBus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		logger:   zap.L().Named("bus"),
	}
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id      uint64
	bus     *EventBus
	ch      chan []byte
	closed  bool
	dropped atomic.Int64
}

// C returns the message channel. It is closed when the subscription is.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Dropped returns how many messages this subscriber lost to overflow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (b *EventBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan []byte, b.capacity),
	}
	b.subs[sub.id] = sub
	b.logger.Debug("subscribed", zap.Uint64("id", sub.id), zap.Int("total", len(b.subs)))
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.id)
	close(sub.ch)
	b.logger.Debug("unsubscribed",
		zap.Uint64("id", sub.id),
		zap.Int64("dropped", sub.dropped.Load()),
		zap.Int("total", len(b.subs)))
}

// Publish delivers msg to every current subscriber.
func (b *EventBus) Publish(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Inc()
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}

		// backlog full: discard the oldest message to make room
		select {
		case <-sub.ch:
			sub.dropped.Inc()
			b.dropped.Inc()
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Inc()
			b.dropped.Inc()
		}
	}
}

// Len returns the number of active subscriptions.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns the total published and dropped message counts.
func (b *EventBus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
