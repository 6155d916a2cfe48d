package services

import (
	"sync"
	"time"
)

// EventType identifies a pipeline event
type EventType string

const (
	// EventSyncProgress reports phase and counter updates during a sync
	EventSyncProgress EventType = "sync-progress"
	// EventSyncActivity reports human-readable activity lines
	EventSyncActivity EventType = "sync-activity"
	// EventSyncComplete reports the final counters of a finished sync
	EventSyncComplete EventType = "sync-complete"
	// EventSyncError reports a failed sync
	EventSyncError EventType = "sync-error"
	// EventJobFound reports a newly created job record
	EventJobFound EventType = "job-found"
)

// Event is one published pipeline event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// subscriberBuffer bounds each subscriber channel. A slow consumer loses
// events rather than stalling the pipeline.
const subscriberBuffer = 64

// EventBus is an in-process publish/subscribe fanout. Publishing never
// blocks; each subscriber has a bounded buffer and overflow drops the event
// for that subscriber only.
type EventBus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

// NewEventBus creates an empty event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed by Unsubscribe.
func (b *EventBus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once with the same id.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Publish delivers an event to every subscriber without blocking
func (b *EventBus) Publish(eventType EventType, payload map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop for this subscriber
		}
	}
}

// PublishProgress publishes a sync-progress event. emailCurrent/emailTotal
// track the emails handled within the current account.
func (b *EventBus) PublishProgress(current, total int, phase, status, details string, emailCurrent, emailTotal int) {
	b.Publish(EventSyncProgress, map[string]interface{}{
		"current": current,
		"total":   total,
		"phase":   phase,
		"status":  status,
		"details": details,
		"emailProgress": map[string]interface{}{
			"current": emailCurrent,
			"total":   emailTotal,
		},
	})
}

// PublishActivity publishes a sync-activity event
func (b *EventBus) PublishActivity(activityType, message string, details map[string]interface{}) {
	b.Publish(EventSyncActivity, map[string]interface{}{
		"type":    activityType,
		"message": message,
		"details": details,
	})
}

// PublishError publishes a sync-error event
func (b *EventBus) PublishError(message string) {
	b.Publish(EventSyncError, map[string]interface{}{
		"message": message,
	})
}
