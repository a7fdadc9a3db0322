// Package fsm implements the behavioral state machine that decides which
// actions are admissible and when the robot changes mode. The transition
// graph and the per-state admission whitelists are built once at
// construction and never change afterwards.
package fsm

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/queue"
)

// EmergencyStopPriority sits above every normal action priority so the
// synthetic stop is always dequeued ahead of pending work.
const EmergencyStopPriority = 1000

// AnyState is a wildcard source for transitions reachable from everywhere.
const AnyState schemas.State = "*"

// ErrNotFaulted is returned by Reset when the machine is not in Faulted.
// Reset is an explicit recovery control, not a general jump-to-idle.
var ErrNotFaulted = errors.New("fsm: reset requires faulted state")

// ErrNotIdle is returned by Begin outside of Idle.
var ErrNotIdle = errors.New("fsm: begin requires idle state")

// Evidence is what a trigger may look at: the command results completed
// since the previous tick, in completion order, and the time spent in the
// current state including this cycle.
type Evidence struct {
	Results []schemas.CommandResult
	InState time.Duration
}

// TriggerFunc reports whether a transition's condition holds.
type TriggerFunc func(ev Evidence) bool

// Emit describes an action a transition commits when it fires. These are
// state-driven actions; they originate from the FSM and bypass admission.
type Emit struct {
	Kind     schemas.ActionKind
	Priority int
}

// Transition is one edge of the graph. Priority picks the winner when
// several triggers hold in the same tick; declaration order breaks ties.
type Transition struct {
	Name     string
	From     schemas.State
	To       schemas.State
	Priority int
	When     TriggerFunc
	Emit     *Emit
}

// Change records a fired transition. Evicted lists any Strategy-origin
// actions dropped to make room for an emitted action; the executive owes
// each of them an explicit terminal result.
type Change struct {
	From    schemas.State
	To      schemas.State
	Cause   string
	At      time.Time
	Evicted []schemas.Action
}

// Machine is the executive's finite state machine. Tick runs synchronously
// on the control cycle; Admit may be called from the same goroutine between
// ticks. The machine is the only component that commits actions derived
// from state transitions.
type Machine struct {
	mu        sync.RWMutex
	current   schemas.State
	inState   time.Duration
	table     []Transition
	whitelist map[schemas.State]map[schemas.ActionKind]struct{}
	queue     *queue.ActionQueue
	seq       *schemas.Sequencer
	logger    *zap.Logger
}

// New builds a machine starting in Idle with the given transition table and
// admission whitelists. The table and whitelists are copied; callers cannot
// mutate them afterwards.
func New(table []Transition, whitelist Whitelist, q *queue.ActionQueue, seq *schemas.Sequencer, logger *zap.Logger) (*Machine, error) {
	if q == nil {
		return nil, errors.New("fsm: queue cannot be nil")
	}
	if seq == nil {
		return nil, errors.New("fsm: sequencer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wl := make(map[schemas.State]map[schemas.ActionKind]struct{}, len(whitelist))
	for state, kinds := range whitelist {
		set := make(map[schemas.ActionKind]struct{}, len(kinds))
		for _, k := range kinds {
			set[k] = struct{}{}
		}
		wl[state] = set
	}

	return &Machine{
		current:   schemas.StateIdle,
		table:     append([]Transition(nil), table...),
		whitelist: wl,
		queue:     q,
		seq:       seq,
		logger:    logger.With(zap.String("component", "fsm")),
	}, nil
}

// Current returns the present behavioral state. Strategy reads this as a
// snapshot; it must never act on it without going through Admit.
func (m *Machine) Current() schemas.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Admit decides whether a proposed action is legal right now. It is a pure
// function of (current state, action kind): each state declares a whitelist
// of admissible kinds and anything else is rejected. Faulted has an empty
// whitelist, so every proposal is refused until an external reset.
func (m *Machine) Admit(action schemas.Action) schemas.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.whitelist[m.current][action.Kind]; !ok {
		return schemas.Reject(schemas.ReasonStateNotAdmissible)
	}
	return schemas.Admit()
}

// Tick folds all command results received since the previous tick, in
// completion order, and fires at most one transition. elapsed is the wall
// time since the previous tick and accumulates into the time-in-state that
// watchdog triggers observe. Tick must be called exactly once per control
// cycle, before any admission for that cycle.
func (m *Machine) Tick(results []schemas.CommandResult, elapsed time.Duration) (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Faulted is a sink: no table entry fires out of it, whatever its From
	// declares. Late results, including a timed-out emergency stop, change
	// nothing; only the external Reset leaves.
	if m.current == schemas.StateFaulted {
		return Change{}, false
	}

	m.inState += elapsed
	ev := Evidence{Results: results, InState: m.inState}

	var (
		winner Transition
		found  bool
	)
	for _, tr := range m.table {
		if tr.From != m.current && tr.From != AnyState {
			continue
		}
		if tr.To == m.current {
			continue
		}
		if !tr.When(ev) {
			continue
		}
		// Strictly-greater keeps the first declared transition on ties.
		if !found || tr.Priority > winner.Priority {
			winner, found = tr, true
		}
	}
	if !found {
		return Change{}, false
	}
	return m.transitionLocked(winner), true
}

// Begin starts a match run by moving Idle to Seeking. It models the driver
// station enabling the robot and is the only way out of Idle.
func (m *Machine) Begin() (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != schemas.StateIdle {
		return Change{}, ErrNotIdle
	}
	return m.transitionLocked(Transition{
		Name: "begin",
		From: schemas.StateIdle,
		To:   schemas.StateSeeking,
	}), nil
}

// Reset clears Faulted back to Idle. It is driven by an explicit external
// signal and never happens automatically.
func (m *Machine) Reset() (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != schemas.StateFaulted {
		return Change{}, ErrNotFaulted
	}
	return m.transitionLocked(Transition{
		Name: "external_reset",
		From: schemas.StateFaulted,
		To:   schemas.StateIdle,
	}), nil
}

// transitionLocked commits the state change and any emitted actions.
func (m *Machine) transitionLocked(tr Transition) Change {
	change := Change{From: m.current, To: tr.To, Cause: tr.Name, At: time.Now()}
	m.current = tr.To
	m.inState = 0

	m.logger.Info("state transition",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("cause", change.Cause),
	)

	if tr.To == schemas.StateFaulted {
		change.Evicted = m.emitLocked(schemas.KindEmergencyStop, EmergencyStopPriority)
		return change
	}
	if tr.Emit != nil {
		change.Evicted = m.emitLocked(tr.Emit.Kind, tr.Emit.Priority)
	}
	return change
}

// emitLocked commits a state-driven action directly into the queue. A full
// queue makes room by dropping the weakest strategy proposal; the dropped
// action is returned so the caller can report a terminal result for it.
func (m *Machine) emitLocked(kind schemas.ActionKind, priority int) []schemas.Action {
	action := schemas.Action{
		Kind:      kind,
		Priority:  priority,
		Seq:       m.seq.Next(),
		Origin:    schemas.OriginFSM,
		CreatedAt: time.Now(),
	}

	var evicted []schemas.Action
	err := m.queue.Enqueue(action)
	if errors.Is(err, queue.ErrQueueFull) {
		if dropped, ok := m.queue.DropLowestStrategy(); ok {
			evicted = append(evicted, dropped)
			m.logger.Warn("evicted pending proposal for state-driven action",
				zap.String("evicted_kind", string(dropped.Kind)),
				zap.Uint64("evicted_seq", dropped.Seq),
				zap.String("kind", string(kind)),
			)
			err = m.queue.Enqueue(action)
		}
	}
	if err != nil {
		// Only possible when the queue is saturated with FSM-origin
		// actions. Loud, because a dropped emergency stop is a real
		// safety problem.
		m.logger.Error("failed to enqueue state-driven action",
			zap.String("kind", string(kind)),
			zap.Uint64("seq", action.Seq),
			zap.Error(err),
		)
		return evicted
	}
	m.logger.Info("state-driven action enqueued",
		zap.String("kind", string(kind)),
		zap.Int("priority", priority),
		zap.Uint64("seq", action.Seq),
	)
	return evicted
}
