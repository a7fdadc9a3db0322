// Package strategy translates planning-layer recommendations into concrete
// actions. It reads the FSM's state but never mutates it, and every
// candidate goes through admission; the manager has no way around it.
package strategy

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/queue"
	"github.com/breakaway-robotics/executive/internal/telemetry"
)

// Priority band for strategy proposals. Confidence scales linearly into it,
// which keeps every proposal strictly below FSM-emitted actions.
const (
	minProposalPriority = 1
	maxProposalPriority = 100
)

// Admitter is the slice of the FSM the manager is allowed to see: a
// read-only state snapshot and the admission gate.
type Admitter interface {
	Current() schemas.State
	Admit(action schemas.Action) schemas.Decision
}

// Manager converts recommendations into admitted, queued actions using a
// deterministic pure mapping. It keeps no state of its own beyond counters.
type Manager struct {
	fsm    Admitter
	queue  *queue.ActionQueue
	seq    *schemas.Sequencer
	bus    *telemetry.Bus
	logger *zap.Logger
}

// New wires a manager. The telemetry bus may be nil.
func New(fsm Admitter, q *queue.ActionQueue, seq *schemas.Sequencer, bus *telemetry.Bus, logger *zap.Logger) (*Manager, error) {
	if fsm == nil {
		return nil, errors.New("strategy: fsm cannot be nil")
	}
	if q == nil {
		return nil, errors.New("strategy: queue cannot be nil")
	}
	if seq == nil {
		return nil, errors.New("strategy: sequencer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		fsm:    fsm,
		queue:  q,
		seq:    seq,
		bus:    bus,
		logger: logger.With(zap.String("component", "strategy")),
	}, nil
}

// OnRecommendation maps one recommendation to zero or more enqueued
// actions. Stale recommendations produce nothing. Rejected candidates are
// reported and discarded, never retried: admission is pure over
// (state, kind), so retrying the same proposal cannot change the answer.
func (m *Manager) OnRecommendation(rec schemas.Recommendation, now time.Time) []schemas.Action {
	if !rec.Valid(now) {
		m.logger.Debug("recommendation outside validity window",
			zap.Time("not_before", rec.NotBefore),
			zap.Time("not_after", rec.NotAfter),
		)
		m.publish(telemetry.EventRecommendationStale, map[string]any{"kinds": rec.Kinds})
		return nil
	}

	state := m.fsm.Current()
	var accepted []schemas.Action
	for _, kind := range rec.Kinds {
		action := schemas.Action{
			Kind:      kind,
			Params:    rec.Params,
			Priority:  proposalPriority(rec.Confidence),
			Seq:       m.seq.Next(),
			Origin:    schemas.OriginStrategy,
			CreatedAt: now,
		}

		decision := m.fsm.Admit(action)
		if !decision.Admitted {
			m.logger.Info("proposal rejected",
				zap.String("kind", string(kind)),
				zap.String("state", string(state)),
				zap.String("reason", string(decision.Reason)),
			)
			m.publish(telemetry.EventProposalRejected, map[string]any{
				"kind":   string(kind),
				"state":  string(state),
				"reason": string(decision.Reason),
			})
			continue
		}

		if !m.enqueue(action) {
			continue
		}
		accepted = append(accepted, action)
		m.publish(telemetry.EventProposalAdmitted, map[string]any{
			"kind": string(kind),
			"seq":  action.Seq,
		})
	}
	return accepted
}

// enqueue inserts an admitted proposal, handling QueueFull backpressure by
// evicting the lowest-ranked proposal of the manager's own origin. When the
// new proposal is itself the lowest, it is the one discarded.
func (m *Manager) enqueue(action schemas.Action) bool {
	err := m.queue.Enqueue(action)
	if err == nil {
		return true
	}
	if !errors.Is(err, queue.ErrQueueFull) {
		m.logger.Error("enqueue failed", zap.String("kind", string(action.Kind)), zap.Error(err))
		return false
	}

	dropped, ok := m.queue.DropLowestStrategy()
	if ok && action.Before(dropped) {
		if err := m.queue.Enqueue(action); err == nil {
			m.logger.Warn("evicted pending proposal under queue pressure",
				zap.String("evicted_kind", string(dropped.Kind)),
				zap.Uint64("evicted_seq", dropped.Seq),
				zap.String("kind", string(action.Kind)),
			)
			m.publish(telemetry.EventProposalEvicted, map[string]any{
				"kind": string(dropped.Kind),
				"seq":  dropped.Seq,
			})
			return true
		}
		return false
	}
	if ok {
		// The dropped entry outranks the newcomer; put it back and give
		// up on the new proposal instead.
		if err := m.queue.Enqueue(dropped); err != nil {
			m.logger.Error("failed to restore pending proposal",
				zap.Uint64("seq", dropped.Seq), zap.Error(err))
		}
	}
	m.logger.Warn("queue full, proposal discarded", zap.String("kind", string(action.Kind)))
	m.publish(telemetry.EventProposalEvicted, map[string]any{
		"kind": string(action.Kind),
		"seq":  action.Seq,
	})
	return false
}

func (m *Manager) publish(event telemetry.EventType, fields map[string]any) {
	if m.bus != nil {
		m.bus.Publish(event, fields)
	}
}

// proposalPriority maps confidence in [0,1] onto the proposal band.
func proposalPriority(confidence float64) int {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return minProposalPriority + int(confidence*float64(maxProposalPriority-minProposalPriority))
}
