// Package events provides in-process publish/subscribe for backing-store
// change notifications.
package events

import (
	"sync"

	"github.com/tOgg1/opsinbox/internal/models"
)

// EventType identifies the kind of change an event describes.
type EventType string

const (
	// EventMessageInserted signals a new message row in the backing store.
	EventMessageInserted EventType = "message.inserted"

	// EventThreadChanged signals any column change on a thread row.
	EventThreadChanged EventType = "thread.changed"
)

// Event is one change notification. Message is set for EventMessageInserted.
// Delivery is at-least-once and unordered; consumers must merge idempotently.
type Event struct {
	Type     EventType
	ThreadID int64
	Message  *models.Message
}

// Handler is a callback invoked when an event matches a subscription.
type Handler func(event Event)

// Filter defines criteria for matching events.
type Filter struct {
	// EventTypes filters by event type (nil = all types).
	EventTypes []EventType

	// ThreadID filters to a specific thread (0 = all threads).
	ThreadID int64
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event Event) bool {
	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.ThreadID != 0 && event.ThreadID != f.ThreadID {
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for event publishing and subscription.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(event Event)

	// Subscribe registers a handler to receive events matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// Bus implements Publisher using in-process fan-out.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewBus creates a new in-process event bus.
func NewBus() *Bus {
	return &Bus{subscriptions: make(map[string]*subscription)}
}

// Publish sends an event to all matching subscribers. Handlers run on the
// caller's goroutine, outside the lock.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	var handlers []Handler
	for _, sub := range b.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (b *Bus) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	b.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(b.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string]*subscription)
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
