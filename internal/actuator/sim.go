// Package actuator provides actuator-interface implementations. The real
// hardware bridge lives behind the motion controller; Sim is an in-process
// stand-in with configurable latency and scripted faults, used by
// `executive run --sim` and by tests.
package actuator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/breakaway-robotics/executive/api/schemas"
)

// Sim simulates actuator hardware. Each Issue call sleeps for the
// configured latency (plus jitter), honors context cancellation as a
// cooperative abort, and can be scripted to fail.
type Sim struct {
	baseLatency time.Duration
	jitter      time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	issued   []schemas.Action
	failures map[schemas.ActionKind][]error
}

// NewSim builds a simulated actuator.
func NewSim(baseLatency, jitter time.Duration, logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sim{
		baseLatency: baseLatency,
		jitter:      jitter,
		logger:      logger.With(zap.String("component", "sim_actuator")),
		failures:    make(map[schemas.ActionKind][]error),
	}
}

// Issue pretends to run the command. Scripted failures are consumed in
// FIFO order per kind before any successful completion is recorded.
func (s *Sim) Issue(ctx context.Context, action schemas.Action) error {
	latency := s.baseLatency
	if s.jitter > 0 {
		latency += time.Duration(rand.Int63n(int64(s.jitter)))
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.logger.Debug("command aborted",
			zap.String("kind", string(action.Kind)),
			zap.Uint64("seq", action.Seq),
		)
		return ctx.Err()
	case <-timer.C:
	}

	if err := s.nextFailure(action.Kind); err != nil {
		s.logger.Debug("scripted fault",
			zap.String("kind", string(action.Kind)),
			zap.Error(err),
		)
		return err
	}

	s.mu.Lock()
	s.issued = append(s.issued, action)
	s.mu.Unlock()

	s.logger.Debug("command completed",
		zap.String("kind", string(action.Kind)),
		zap.Uint64("seq", action.Seq),
	)
	return nil
}

// FailNext scripts an error for the next Issue of the given kind. Multiple
// calls stack in order. Pass schemas.RetryableErrorf(...) results to
// exercise the retry path.
func (s *Sim) FailNext(kind schemas.ActionKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = append(s.failures[kind], err)
}

// Issued returns a copy of the successfully completed actions in
// completion order.
func (s *Sim) Issued() []schemas.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Action(nil), s.issued...)
}

func (s *Sim) nextFailure(kind schemas.ActionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.failures[kind]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	s.failures[kind] = queued[1:]
	return err
}
