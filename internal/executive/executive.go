// Package executive is the composition root of the control layer. It wires
// the state machine, action queue, dispatcher, and strategy manager
// together and runs the two concurrent halves of the system: the fixed-
// cadence control cycle and the dispatch loop.
package executive

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/config"
	"github.com/breakaway-robotics/executive/internal/dispatcher"
	"github.com/breakaway-robotics/executive/internal/fsm"
	"github.com/breakaway-robotics/executive/internal/queue"
	"github.com/breakaway-robotics/executive/internal/strategy"
	"github.com/breakaway-robotics/executive/internal/telemetry"
)

// Options collects the executive's dependencies. Actuator is required; the
// planning-layer source and the telemetry bus are optional.
type Options struct {
	Config          *config.Config
	Logger          *zap.Logger
	Actuator        schemas.Actuator
	Recommendations schemas.RecommendationSource
	Bus             *telemetry.Bus
}

// Executive owns one match run: a control loop evaluating the FSM every
// cycle and a dispatch loop delivering admitted actions to hardware.
type Executive struct {
	cfg     *config.Config
	logger  *zap.Logger
	runID   string
	seq     *schemas.Sequencer
	queue   *queue.ActionQueue
	machine *fsm.Machine
	disp    *dispatcher.Dispatcher
	strat   *strategy.Manager
	recs    schemas.RecommendationSource
	bus     *telemetry.Bus
}

// New wires an executive from its dependencies.
func New(opts Options) (*Executive, error) {
	if opts.Config == nil {
		return nil, errors.New("executive: config cannot be nil")
	}
	if opts.Actuator == nil {
		return nil, errors.New("executive: actuator cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = telemetry.NewBus(opts.Config.Executive.TelemetryBuffer)
	}

	seq := &schemas.Sequencer{}
	q := queue.New(opts.Config.Queue.Capacity)

	critical := make([]schemas.Resource, 0, len(opts.Config.FSM.CriticalResources))
	for _, r := range opts.Config.FSM.CriticalResources {
		critical = append(critical, schemas.Resource(r))
	}
	table := fsm.DefaultTable(fsm.TableConfig{
		Watchdog:          opts.Config.FSM.Watchdog,
		CriticalResources: critical,
	})
	machine, err := fsm.New(table, fsm.DefaultWhitelist(), q, seq, logger)
	if err != nil {
		return nil, err
	}

	disp, err := dispatcher.New(dispatcher.Config{
		ResultBuffer: opts.Config.Dispatcher.ResultBuffer,
		MaxRetries:   opts.Config.Dispatcher.MaxRetries,
		CancelGrace:  opts.Config.Dispatcher.CancelGrace,
		IssueRate:    rate.Limit(opts.Config.Dispatcher.IssueRate),
		HistorySize:  opts.Config.Dispatcher.HistorySize,
	}, q, opts.Actuator, logger)
	if err != nil {
		return nil, err
	}

	strat, err := strategy.New(machine, q, seq, bus, logger)
	if err != nil {
		return nil, err
	}

	return &Executive{
		cfg:     opts.Config,
		logger:  logger.With(zap.String("component", "executive")),
		runID:   uuid.New().String(),
		seq:     seq,
		queue:   q,
		machine: machine,
		disp:    disp,
		strat:   strat,
		recs:    opts.Recommendations,
		bus:     bus,
	}, nil
}

// RunID identifies this match run in logs and telemetry.
func (e *Executive) RunID() string { return e.runID }

// State exposes the current behavioral state for diagnostics.
func (e *Executive) State() schemas.State { return e.machine.Current() }

// History exposes the dispatcher's retained command results.
func (e *Executive) History() []schemas.CommandResult { return e.disp.History() }

// Run executes a match: Idle to Seeking, then control and dispatch loops
// until the match clock or the caller's context ends. The control cycle
// never blocks on actuator I/O; everything hardware-facing happens on the
// dispatch side.
func (e *Executive) Run(ctx context.Context) error {
	if e.cfg.Executive.MatchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Executive.MatchDuration)
		defer cancel()
	}

	e.logger.Info("match run starting",
		zap.String("run_id", e.runID),
		zap.Duration("cycle_period", e.cfg.Executive.CyclePeriod),
		zap.Duration("match_duration", e.cfg.Executive.MatchDuration),
	)

	if _, err := e.machine.Begin(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.disp.Run(ctx) })
	g.Go(func() error { return e.controlLoop(ctx) })
	err := g.Wait()

	e.logger.Info("match run finished",
		zap.String("run_id", e.runID),
		zap.String("final_state", string(e.machine.Current())),
	)
	return err
}

// Reset is the external recovery control: it clears Faulted back to Idle.
// It is never called by the executive itself.
func (e *Executive) Reset() error {
	change, err := e.machine.Reset()
	if err != nil {
		return err
	}
	e.bus.Publish(telemetry.EventReset, map[string]any{
		"from": string(change.From),
		"to":   string(change.To),
	})
	return nil
}

// controlLoop is the synchronous half: one Tick per cycle, then admission
// of newly absorbed planning input.
func (e *Executive) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Executive.CyclePeriod)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			e.cycle(now, elapsed)
		}
	}
}

// cycle runs one control period: drain results, tick the FSM, react to a
// fault, absorb recommendations.
func (e *Executive) cycle(now time.Time, elapsed time.Duration) {
	results := e.disp.Drain()
	for _, r := range results {
		e.bus.Publish(telemetry.EventCommandResult, map[string]any{
			"kind":    string(r.Action.Kind),
			"seq":     r.Action.Seq,
			"outcome": string(r.Outcome),
			"reason":  r.Reason,
		})
	}

	change, fired := e.machine.Tick(results, elapsed)
	if fired {
		e.bus.Publish(telemetry.EventStateTransition, map[string]any{
			"from":  string(change.From),
			"to":    string(change.To),
			"cause": change.Cause,
		})
		// Proposals displaced by a state-driven emission get explicit
		// terminal results; they fold into the next tick like any other.
		for _, a := range change.Evicted {
			e.bus.Publish(telemetry.EventProposalEvicted, map[string]any{
				"kind": string(a.Kind),
				"seq":  a.Seq,
			})
		}
		if len(change.Evicted) > 0 {
			e.disp.FailPending(change.Evicted, schemas.ReasonEvicted)
		}
		if change.To == schemas.StateFaulted {
			e.onFaulted(change)
		}
	}

	e.absorbRecommendations(now)
}

// onFaulted stops the world: cancel in-flight commands so the emergency
// stop's resource is clear, then explicitly fail everything still queued
// behind the stop. The EmergencyStop action itself was already committed
// by the FSM during the transition.
func (e *Executive) onFaulted(change fsm.Change) {
	e.logger.Error("robot faulted",
		zap.String("from", string(change.From)),
		zap.String("cause", change.Cause),
	)
	e.bus.Publish(telemetry.EventFaulted, map[string]any{
		"from":  string(change.From),
		"cause": change.Cause,
	})

	e.disp.CancelAllExcept(schemas.ResourceEStop)

	flushed := e.queue.Flush()
	var failed []schemas.Action
	for _, action := range flushed {
		if action.Kind == schemas.KindEmergencyStop {
			// The stop goes straight back; it must be the next thing
			// dispatched.
			if err := e.queue.Enqueue(action); err != nil {
				e.logger.Error("failed to restore emergency stop", zap.Error(err))
			}
			continue
		}
		failed = append(failed, action)
	}
	e.disp.FailPending(failed, schemas.ReasonCancelled)
}

// absorbRecommendations pulls a bounded number of planning suggestions per
// cycle and runs them through strategy mapping and FSM admission.
func (e *Executive) absorbRecommendations(now time.Time) {
	if e.recs == nil {
		return
	}
	budget := e.cfg.Executive.MaxRecommendationsPerCycle
	if budget <= 0 {
		budget = 1
	}
	for i := 0; i < budget; i++ {
		rec, ok := e.recs.Next()
		if !ok {
			return
		}
		e.strat.OnRecommendation(rec, now)
	}
}
