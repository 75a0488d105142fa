package queue

import "github.com/plateshare/synckit/internal/models"

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetrying  EventType = "retrying"
	EventCancelled EventType = "cancelled"
	EventCleared   EventType = "cleared"
)

// Event is delivered to registered listeners on queue lifecycle changes.
// Delivery is synchronous and at-least-once, in listener registration order.
// Operation is a snapshot; nil for queue-wide events such as EventCleared.
type Event struct {
	Type      EventType
	Operation *models.QueuedOperation
	Error     string
}

// Listener receives queue lifecycle events. Listeners must not call back
// into the store from the callback.
type Listener func(Event)
