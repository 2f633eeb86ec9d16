package pipeline

import (
	"sync"
)

// EventHandler receives pipeline events
type EventHandler interface {
	// OnEvent is called for each published event
	OnEvent(event Event)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(Event)

func (f EventHandlerFunc) OnEvent(event Event) { f(event) }

// EventBus provides pub/sub for pipeline events
// It is the scheduler's sink; subscribers fan the events out to clients,
// storage and notifiers.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter string // Empty string means receive all cameras
	channel      chan Event
	handler      EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all cameras
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeCamera registers a handler for events from a specific camera
// Returns an unsubscribe function
func (b *EventBus) SubscribeCamera(cameraID string, handler EventHandler) func() {
	return b.add(&eventSubscription{cameraFilter: cameraID, handler: handler})
}

// SubscribeChannel returns a channel that receives events
// The channel has the specified buffer size
// Returns the channel and an unsubscribe function
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan Event, bufferSize)
	sub := &eventSubscription{
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != event.CameraID {
			continue
		}

		// Handlers are called synchronously so each subscriber sees events
		// in emission order.
		if sub.handler != nil {
			sub.handler.OnEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

// Ensure EventBus implements EventSink
var _ EventSink = (*EventBus)(nil)
