// Package events carries replay outcomes to the application layer. The
// UI applies mutations optimistically at enqueue time; these events are
// how it learns whether the server eventually accepted them.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventOperationCompleted  = "operation_completed"
	EventOperationFailed     = "operation_failed"
	EventOperationConflicted = "operation_conflicted"
	EventQueueCleared        = "queue_cleared"
	EventSyncFinished        = "sync_finished"
)

// OperationOutcome describes the fate of one queued operation.
type OperationOutcome struct {
	ItemID    string `json:"item_id"`
	Operation string `json:"operation"`
	Type      string `json:"type"`
	Attempts  int    `json:"attempts"`
	Discarded bool   `json:"discarded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SyncSummary describes one completed queue pass.
type SyncSummary struct {
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Conflicts  int       `json:"conflicts"`
	Skipped    int       `json:"skipped"`
	FinishedAt time.Time `json:"finished_at"`
}

// QueueCleared reports an explicit queue wipe.
type QueueCleared struct {
	Removed   int       `json:"removed"`
	ClearedAt time.Time `json:"cleared_at"`
}

// Event represents a lightweight engine event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for engine events.
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
