package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans notifications out to the core's listeners: the live port, the SSE
// streams and the logs. It keeps watermill's gochannel as the underlying
// pub/sub infrastructure, but delivers to subscribers by direct call so
// notifications arrive in publish order and keep their Go types.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID    uint64
	published atomic.Uint64
	closed    bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

// Subscribe registers a subscriber for one event type and returns the
// unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(eventType, id) }
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe("", id) }
}

// unsubscribe removes a subscriber; an empty eventType targets the global list.
func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.global
	if eventType != "" {
		list = b.subscribers[eventType]
	}
	for i, entry := range list {
		if entry.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if eventType == "" {
			b.global = list
		} else {
			b.subscribers[eventType] = list
		}
		return
	}
}

// snapshot returns the subscribers for eventType, or nil once closed.
func (b *Bus) snapshot(eventType EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish calls each subscriber in its own goroutine. Order across events is
// not preserved; use PublishSync for notifications.
func (b *Bus) Publish(event Event) {
	b.published.Add(1)
	for _, sub := range b.snapshot(event.Type) {
		go b.call(sub, event)
	}
}

// PublishSync calls every subscriber in the current goroutine before
// returning. Subscribers must not block and must not publish.
func (b *Bus) PublishSync(event Event) {
	b.published.Add(1)
	for _, sub := range b.snapshot(event.Type) {
		b.call(sub, event)
	}
}

// call runs one subscriber, containing any panic it raises so the remaining
// subscribers still receive the event.
func (b *Bus) call(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("type", string(event.Type)).Msg("event subscriber panicked")
		}
	}()
	sub(event)
}

// Published returns the number of events published so far.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close drops all subscribers. Publishing after Close is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel, for routing
// notifications to a broker.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
