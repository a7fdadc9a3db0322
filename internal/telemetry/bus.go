// Package telemetry is the diagnostics sink for the executive: a
// non-blocking publish/subscribe bus carrying structured events for every
// admission, rejection, transition, and command result. Nothing on the
// control path ever waits for a subscriber.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType labels a diagnostic event.
type EventType string

const (
	EventStateTransition     EventType = "state_transition"
	EventProposalAdmitted    EventType = "proposal_admitted"
	EventProposalRejected    EventType = "proposal_rejected"
	EventProposalEvicted     EventType = "proposal_evicted"
	EventCommandResult       EventType = "command_result"
	EventRecommendationStale EventType = "recommendation_stale"
	EventFaulted             EventType = "faulted"
	EventReset               EventType = "reset"
)

// Event is one diagnostic record.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Fields    map[string]any
}

// Subscriber receives events for the types it subscribed to.
type Subscriber func(Event)

// Bus fans events out to subscribers over buffered channels. A slow
// subscriber loses events rather than stalling a publisher; losses are
// counted and visible through Dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	dropped     atomic.Uint64
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. Delivery happens on a dedicated goroutine per subscription.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	b.mu.Unlock()

	go func() {
		for event := range ch {
			fn(event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, c := range subs {
			if c == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
	}
}

// Publish delivers an event to every subscriber of its type without ever
// blocking the caller.
func (b *Bus) Publish(eventType EventType, fields map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Fields: fields}

	b.mu.RLock()
	subs := b.subscribers[eventType]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
