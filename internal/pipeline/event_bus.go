package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for frame results and status changes
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	handler       ResultHandler
	statusHandler StatusHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
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

// Subscribe registers a handler for frame results
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeStatus registers a handler for pipeline status changes
func (b *EventBus) SubscribeStatus(handler StatusHandler) func() {
	return b.add(&eventSubscription{statusHandler: handler})
}

// Publish sends a frame result to all subscribers
func (b *EventBus) Publish(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		// Handlers run synchronously so results arrive in frame order
		if sub.handler != nil {
			sub.handler.OnFrameResult(result)
		}
	}
}

// PublishStatus sends a status event to status subscribers
func (b *EventBus) PublishStatus(event StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.statusHandler != nil {
			sub.statusHandler.OnStatus(event)
		}
	}
}

// Close unsubscribes all subscribers
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.subscribers)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *FrameResult)

func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) { f(result) }

// StatusHandlerFunc adapts a function to StatusHandler
type StatusHandlerFunc func(event StatusEvent)

func (f StatusHandlerFunc) OnStatus(event StatusEvent) { f(event) }
