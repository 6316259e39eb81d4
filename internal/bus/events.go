package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Chat lifecycle event types.
const (
	EventConversationCreated = "conversation.created"
	EventConversationOpened  = "conversation.opened"
	EventMessageSent         = "message.sent"
	EventStreamDelta         = "stream.delta"
	EventStreamCompleted     = "stream.completed"
	EventStreamFailed        = "stream.failed"
	EventHistoryReconciled   = "history.reconciled"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// Event is a chat lifecycle notification.
type Event struct {
	Type           string
	ConversationID string         // empty for events not tied to a conversation
	Payload        map[string]any // event-specific data
	Timestamp      time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus is a topic-based publish/subscribe bus. Renderers subscribe to it
// instead of polling the chat store. The zero value is not usable; a nil
// *EventBus drops every event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{subs: make(map[string][]subscription), logger: logger}
}

// On registers handler for eventType (or AllEvents) and returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: eb.nextID, handler: handler})
	return eventType + "#" + strconv.FormatUint(eb.nextID, 10)
}

// Off removes a handler registered with On. Unknown ids are ignored.
func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subs[eventType]
	for i, s := range subs {
		if eventType+"#"+strconv.FormatUint(s.id, 10) == id {
			eb.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers event synchronously on the caller's goroutine: first to the
// handlers of its type, then to AllEvents handlers, each in registration
// order. A panicking handler is logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	targets := make([]subscription, 0, len(eb.subs[event.Type])+len(eb.subs[AllEvents]))
	targets = append(targets, eb.subs[event.Type]...)
	targets = append(targets, eb.subs[AllEvents]...)
	eb.mu.RUnlock()

	for _, s := range targets {
		eb.deliver(s, event)
	}
}

func (eb *EventBus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "subscription", s.id, "panic", r)
		}
	}()
	s.handler(event)
}
