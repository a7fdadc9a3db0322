package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesMatchingEvents(t *testing.T) {
	bus := NewBus(8)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)
	unsub := bus.Subscribe(EventStateTransition, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsub()

	bus.Publish(EventStateTransition, map[string]any{"from": "SEEKING", "to": "ALIGNING"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, EventStateTransition, got[0].Type)
	assert.Equal(t, "ALIGNING", got[0].Fields["to"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestSubscriberIgnoresOtherEventTypes(t *testing.T) {
	bus := NewBus(8)

	received := make(chan Event, 8)
	unsub := bus.Subscribe(EventFaulted, func(e Event) { received <- e })
	defer unsub()

	bus.Publish(EventProposalAdmitted, map[string]any{"kind": "DRIVE_TO"})
	bus.Publish(EventCommandResult, nil)

	select {
	case e := <-received:
		t.Fatalf("unexpected event delivered: %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsHarmless(t *testing.T) {
	bus := NewBus(8)
	bus.Publish(EventReset, nil)
	assert.Zero(t, bus.Dropped())
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)

	block := make(chan struct{})
	unsub := bus.Subscribe(EventCommandResult, func(Event) { <-block })
	defer func() {
		close(block)
		unsub()
	}()

	// The handler goroutine is stuck, so after the buffered slot and the
	// in-hand event are consumed, publishes start dropping.
	for i := 0; i < 10; i++ {
		bus.Publish(EventCommandResult, nil)
	}
	assert.Greater(t, bus.Dropped(), uint64(0))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)

	received := make(chan Event, 8)
	unsub := bus.Subscribe(EventReset, func(e Event) { received <- e })
	unsub()

	bus.Publish(EventReset, nil)
	select {
	case <-received:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus(8)

	a := make(chan Event, 1)
	b := make(chan Event, 1)
	defer bus.Subscribe(EventFaulted, func(e Event) { a <- e })()
	defer bus.Subscribe(EventFaulted, func(e Event) { b <- e })()

	bus.Publish(EventFaulted, map[string]any{"state": "FAULTED"})

	for _, ch := range []chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, EventFaulted, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
