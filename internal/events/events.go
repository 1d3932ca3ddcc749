package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventRecordEnqueued = "record_enqueued"
	EventRecordSynced   = "record_synced"
	EventRecordFailed   = "record_failed"
	EventRecordRequeued = "record_requeued"
	EventCycleCompleted = "cycle_completed"
)

// RecordEventPayload describes the minimal record snapshot for event consumers.
type RecordEventPayload struct {
	RecordID     string `json:"record_id"`
	RecordType   string `json:"record_type"`
	TargetSystem string `json:"target_system"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
}

// CycleEventPayload summarizes one dispatch cycle.
type CycleEventPayload struct {
	TargetSystem string `json:"target_system"`
	Claimed      int    `json:"claimed"`
	Synced       int    `json:"synced"`
	Retried      int    `json:"retried"`
	Failed       int    `json:"failed"`
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
