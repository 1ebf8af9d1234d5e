// Package fanout delivers ingestion deltas to live subscribers. Delivery is
// advisory: the read API remains the source of truth, so a slow subscriber
// loses deltas rather than slowing ingestion down.
package fanout

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

const defaultBuffer = 256

// Bus fans deltas out to current subscribers. Publish never blocks on a
// subscriber: each subscriber owns a bounded queue with drop-oldest
// overflow. Deltas published for the same conversation key reach a
// still-connected subscriber in publish order.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	buffer  int
	closed  bool
	dropped uint64
}

// Subscriber is one live feed registration. Receive from C() and call
// Close() when done; an abandoned subscriber leaks a registration.
type Subscriber struct {
	key string
	ch  chan models.Delta
	// pushMu keeps the pop-oldest-then-push sequence atomic when several
	// publishers race on a full buffer.
	pushMu sync.Mutex
	once   sync.Once
	parent *Bus
}

// New creates a Bus. buffer is the per-subscriber queue depth; zero or
// negative selects the default.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a live feed. An empty conversation key subscribes to
// every delta (the conversation-list view); a non-empty key filters to that
// conversation.
func (b *Bus) Subscribe(conversationKey string) *Subscriber {
	s := &Subscriber{key: conversationKey, ch: make(chan models.Delta, b.buffer), parent: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	logger.Log.Debug("fanout_subscribed", zap.String("conversation", conversationKey), zap.Int("subscribers", len(b.subs)))
	return s
}

// C returns the subscriber's delta feed. The channel is closed when the
// subscriber or the bus is closed.
func (s *Subscriber) C() <-chan models.Delta { return s.ch }

// Close releases the registration promptly; it is safe to call more than
// once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		b := s.parent
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	})
}

// Publish delivers the delta to every matching subscriber without blocking.
// When a subscriber's buffer is full the oldest queued delta is dropped so
// the newest state still arrives.
func (b *Bus) Publish(delta models.Delta) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.key != "" && s.key != delta.ConversationKey {
			continue
		}
		s.pushMu.Lock()
		select {
		case s.ch <- delta:
		default:
			select {
			case <-s.ch:
				atomic.AddUint64(&b.dropped, 1)
			default:
			}
			select {
			case s.ch <- delta:
			default:
				atomic.AddUint64(&b.dropped, 1)
			}
		}
		s.pushMu.Unlock()
	}
}

// SubscriberCount returns the number of live registrations.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of deltas discarded due to slow
// subscribers.
func (b *Bus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }

// Close shuts the bus down and closes every subscriber feed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
