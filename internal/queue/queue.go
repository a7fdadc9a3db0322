// Package queue implements the bounded priority buffer between the control
// cycle and the command dispatcher. It is a pure ordering structure: it
// knows nothing about deadlines, retries, or states.
package queue

import (
	"errors"
	"sort"
	"sync"

	"github.com/breakaway-robotics/executive/api/schemas"
)

// ErrQueueFull is returned when an enqueue would exceed capacity and no
// eviction is possible. It is recoverable backpressure, not a fault.
var ErrQueueFull = errors.New("action queue full")

// DefaultCapacity bounds the backlog when the config does not say otherwise.
const DefaultCapacity = 64

// ActionQueue holds pending actions ordered by priority (higher first) and
// sequence number (lower first) within a priority band. It is the only
// mutable resource shared between the control-cycle goroutine and the
// dispatch goroutine; the internal lock is held only for the duration of a
// single operation, never across a dispatch call.
type ActionQueue struct {
	mu       sync.Mutex
	items    []schemas.Action
	capacity int
}

// New creates a queue with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *ActionQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ActionQueue{
		items:    make([]schemas.Action, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue inserts an admitted action in order. At capacity it returns
// ErrQueueFull regardless of origin: the queue itself never drops an entry.
// Making room happens only through DropLowestStrategy, which hands the
// evicted action back to a caller that logs it and reports a terminal
// result for it.
func (q *ActionQueue) Enqueue(action schemas.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.insertLocked(action)
	return nil
}

// PeekNext returns the next action to dispatch without removing it.
func (q *ActionQueue) PeekNext() (schemas.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return schemas.Action{}, false
	}
	return q.items[0], true
}

// Dequeue removes and returns the highest-priority, lowest-sequence action.
func (q *ActionQueue) Dequeue() (schemas.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return schemas.Action{}, false
	}
	next := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return next, true
}

// DropLowestStrategy removes and returns the worst-ranked Strategy-origin
// entry. Callers use it to make room after ErrQueueFull; the returned action
// is theirs to log and terminate.
func (q *ActionQueue) DropLowestStrategy() (schemas.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.lowestStrategyLocked()
	if idx < 0 {
		return schemas.Action{}, false
	}
	dropped := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return dropped, true
}

// Flush removes and returns every pending action, best-ranked first. The
// caller takes over ownership and must explicitly fail or dispatch them;
// the queue never silently drops admitted work.
func (q *ActionQueue) Flush() []schemas.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	flushed := q.items
	q.items = make([]schemas.Action, 0, q.capacity)
	return flushed
}

// Len reports the number of pending actions.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity reports the configured bound.
func (q *ActionQueue) Capacity() int { return q.capacity }

// insertLocked places the action at its ordered position. Capacity is
// small, so an ordered slice beats a heap on both clarity and constant
// factors here.
func (q *ActionQueue) insertLocked(action schemas.Action) {
	pos := sort.Search(len(q.items), func(i int) bool {
		return action.Before(q.items[i])
	})
	q.items = append(q.items, schemas.Action{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = action
}

// lowestStrategyLocked finds the worst-ranked Strategy-origin entry, or -1.
// Items are sorted best-first, so scan from the tail.
func (q *ActionQueue) lowestStrategyLocked() int {
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Origin == schemas.OriginStrategy {
			return i
		}
	}
	return -1
}
