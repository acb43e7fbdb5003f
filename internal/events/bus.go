package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus fans events out to subscribers over buffered channels. Publish never
// blocks: an event that does not fit in a subscriber's buffer is dropped
// for that subscriber only. Engine state is authoritative, so a lost event
// costs a consumer freshness, never correctness.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

// Subscription is a single consumer's view of the bus.
type Subscription struct {
	id   uint64
	ch   chan Event
	bus  *Bus
	once sync.Once
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new consumer. The returned subscription's channel
// is closed when the subscription or the bus is closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:  b.nextID,
		ch:  make(chan Event, b.buffer),
		bus: b,
	}
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers events to every subscriber without blocking.
func (b *Bus) Publish(evs ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ev := range evs {
		for _, s := range b.subs {
			select {
			case s.ch <- ev:
			default:
				n := b.dropped.Add(1)
				b.logger.Warn("event dropped",
					zap.Uint64("subscriber", s.id),
					zap.String("type", string(ev.EventType())),
					zap.String("market_id", ev.Market()),
					zap.Uint64("dropped_total", n),
				)
			}
		}
	}
}

// Dropped returns the number of deliveries skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes and closes the event channel.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}
