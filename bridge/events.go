package bridge

import (
	"sync"
	"time"
)

// EventType identifies the kind of lifecycle event emitted by the Manager.
type EventType int

const (
	// Connection events
	EventConnecting EventType = iota + 1
	EventConnected
	EventSessionActive
	EventReconnecting
	EventDisconnected

	// Endpoint events
	EventEndpointSwitched
	EventEndpointOverridden

	// Subscription events
	EventSubscriptionStarted
	EventSubscriptionLost

	// Write events
	EventWriteCompleted
	EventWriteFailed
)

// Event is the envelope emitted by the Manager's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ConnectionEvent is the payload for connection lifecycle events.
type ConnectionEvent struct {
	Endpoint string
	Role     string // "primary" or "fallback"
	Attempt  int
	Err      string
}

// WriteEvent is the payload for write completion events.
type WriteEvent struct {
	PointID string
	Err     string
}

// SubscriberID identifies a registered event callback.
type SubscriberID int

type subscriber struct {
	fn    func(Event)
	types map[EventType]bool // nil = all types
}

// EventBus dispatches lifecycle events to registered subscribers.
// Dispatch is synchronous; subscribers must not block.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[SubscriberID]subscriber
	counter SubscriberID
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriberID]subscriber)}
}

// Subscribe registers a callback for all events. Returns an ID for
// Unsubscribe.
func (b *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return b.subscribe(fn, nil)
}

// SubscribeTypes registers a callback for specific event types only.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return b.subscribe(fn, filter)
}

func (b *EventBus) subscribe(fn func(Event), types map[EventType]bool) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counter++
	id := b.counter
	b.subs[id] = subscriber{fn: fn, types: types}
	return id
}

// Unsubscribe removes a callback. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit delivers an event to every matching subscriber, stamping the time.
func (b *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		s.fn(e)
	}
}
