package coastline

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a progress event on a planning thread.
type EventType string

const (
	EventStatus           EventType = "status"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventAwaitingDecision EventType = "awaiting_decision"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is one progress notification. Data is event-specific and must be JSON
// serializable.
type Event struct {
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives progress events as a thread executes. Publishing
// must not block thread execution; slow consumers drop events rather than
// stalling the engine.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventBus is an in-process EventPublisher with per-thread subscriptions.
// Each subscriber gets a buffered channel; events overflow by dropping, never
// by blocking the publisher.
type EventBus struct {
	mutex sync.RWMutex
	subs  map[string][]chan Event
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: map[string][]chan Event{}}
}

// Subscribe registers a listener for one thread's events. The returned cancel
// function removes the subscription and closes the channel.
func (b *EventBus) Subscribe(threadID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mutex.Lock()
	b.subs[threadID] = append(b.subs[threadID], ch)
	b.mutex.Unlock()

	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		subs := b.subs[threadID]
		for i, sub := range subs {
			if sub == ch {
				b.subs[threadID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(b.subs[threadID]) == 0 {
			delete(b.subs, threadID)
		}
	}
	return ch, cancel
}

func (b *EventBus) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, ch := range b.subs[event.ThreadID] {
		select {
		case ch <- event:
		default:
		}
	}
}
