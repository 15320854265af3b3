package runtime

import (
	"sync"
	"time"
)

// EventType names something that happened during a conversation turn.
type EventType string

const (
	EventMessageStored EventType = "message_stored"
	EventStageChanged  EventType = "stage_changed"
	EventMemoryUpdate  EventType = "memory_update"
	EventSummaryStored EventType = "summary_stored"
	EventSummaryFailed EventType = "summary_failed"
	EventChatComplete  EventType = "chat_complete"
)

// Event is published on the bus. Data keys depend on Type.
type Event struct {
	Type      EventType
	Timestamp time.Time
	OwnerID   string
	Data      map[string]any
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans events out to subscribers synchronously, in subscription order.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish calls every matching handler. Handlers may subscribe or publish
// from inside the callback.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := append([]EventHandler(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.allHandlers...)
	eb.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, ownerID string, data map[string]any) {
	eb.Publish(Event{
		Type:    eventType,
		OwnerID: ownerID,
		Data:    data,
	})
}
