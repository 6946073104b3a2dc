package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventReservationChanged fires on every committed reservation transition:
// creation, confirmation, cancellation, completion, refund.
const EventReservationChanged = "reservation_changed"

// ReservationEventPayload is the snapshot broadcast to channel watchers.
// EventType always carries EventReservationChanged; Action names the
// transition that produced the event.
type ReservationEventPayload struct {
	Channel       string `json:"channel"`
	EventType     string `json:"event_type"`
	Action        string `json:"action"`
	ReservationID int64  `json:"reservation_id"`
	Reference     string `json:"reference"`
	ResourceID    int64  `json:"resource_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
