// Package dispatcher drains the action queue and issues commands to the
// actuator interface. It owns every in-flight command until a CommandResult
// is produced; it never decides state transitions itself.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/queue"
)

// Config tunes the dispatch loop.
type Config struct {
	// ResultBuffer bounds the channel carrying results back to the
	// control cycle.
	ResultBuffer int
	// MaxRetries bounds retries of transient failures for retryable kinds.
	MaxRetries int
	// CancelGrace is how long a cancelled command may take to abort
	// before a Failed(cancelled) result is synthesized for it.
	CancelGrace time.Duration
	// IssueRate paces the dispatch loop so a queue whose head is blocked
	// on a busy resource does not spin.
	IssueRate rate.Limit
	// HistorySize bounds the retained record of completed commands.
	HistorySize int
}

// DefaultConfig returns the reference dispatch policy.
func DefaultConfig() Config {
	return Config{
		ResultBuffer: 64,
		MaxRetries:   2,
		CancelGrace:  250 * time.Millisecond,
		IssueRate:    rate.Limit(200),
		HistorySize:  256,
	}
}

// inflight tracks one command that has been handed to the actuator. deliver
// runs through a sync.Once so a synthesized cancellation result and a late
// real result can never both be reported.
type inflight struct {
	action schemas.Action
	cancel context.CancelFunc
	once   sync.Once
}

// Dispatcher runs a single dispatch goroutine plus one short-lived goroutine
// per in-flight command, so actuator latency never blocks either the control
// cycle or dispatch of commands for other resources.
type Dispatcher struct {
	cfg      Config
	queue    *queue.ActionQueue
	actuator schemas.Actuator
	logger   *zap.Logger
	limiter  *rate.Limiter
	results  chan schemas.CommandResult
	history  *historyRing

	mu       sync.Mutex
	inflight map[schemas.Resource]*inflight
	wg       sync.WaitGroup

	// pending holds control-side terminal results until the next Drain.
	// The control cycle is the results channel's only consumer, so it must
	// never send on that channel itself.
	pendingMu sync.Mutex
	pending   []schemas.CommandResult
}

// New creates a dispatcher over the shared queue and the actuator boundary.
func New(cfg Config, q *queue.ActionQueue, actuator schemas.Actuator, logger *zap.Logger) (*Dispatcher, error) {
	if q == nil {
		return nil, errors.New("dispatcher: queue cannot be nil")
	}
	if actuator == nil {
		return nil, errors.New("dispatcher: actuator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = DefaultConfig().ResultBuffer
	}
	if cfg.IssueRate <= 0 {
		cfg.IssueRate = DefaultConfig().IssueRate
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultConfig().CancelGrace
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    q,
		actuator: actuator,
		logger:   logger.With(zap.String("component", "dispatcher")),
		limiter:  rate.NewLimiter(cfg.IssueRate, 1),
		results:  make(chan schemas.CommandResult, cfg.ResultBuffer),
		history:  newHistoryRing(cfg.HistorySize),
		inflight: make(map[schemas.Resource]*inflight),
	}, nil
}

// Results exposes the bounded channel the control cycle drains each tick.
func (d *Dispatcher) Results() <-chan schemas.CommandResult { return d.results }

// Run is the dispatch loop. It returns after ctx is cancelled and every
// in-flight command has been accounted for, then closes the results channel.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started", zap.Float64("issue_rate", float64(d.cfg.IssueRate)))
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			break
		}
		action, ok := d.queue.Dequeue()
		if !ok {
			continue
		}
		d.dispatchOne(ctx, action)
	}

	// Keep the results channel flowing while in-flight commands wind
	// down; nothing is draining it from the control side any more.
	// Everything discarded here is already retained in the history ring.
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	for {
		select {
		case <-d.results:
		case <-finished:
			close(d.results)
			d.logger.Info("dispatch loop stopped")
			return nil
		}
	}
}

// dispatchOne issues a single dequeued action, deferring it when its
// resource is occupied and expiring it when it went stale in the queue.
func (d *Dispatcher) dispatchOne(ctx context.Context, action schemas.Action) {
	now := time.Now()
	if now.After(action.Deadline()) {
		d.deliver(schemas.CommandResult{
			Action:      action,
			Outcome:     schemas.OutcomeTimedOut,
			Reason:      schemas.ReasonStale,
			CompletedAt: now,
		})
		return
	}

	res := action.Resource()
	d.mu.Lock()
	if _, busy := d.inflight[res]; busy {
		d.mu.Unlock()
		d.requeueBusy(action)
		return
	}

	// The in-flight budget is anchored at dispatch time. Queue staleness
	// and hardware time are two separate bounds, each one kind-timeout
	// wide; a command dispatched just inside its staleness deadline still
	// gets its full hardware budget.
	cmdCtx, cancel := context.WithTimeout(ctx, schemas.SpecFor(action.Kind).Timeout)
	entry := &inflight{action: action, cancel: cancel}
	d.inflight[res] = entry
	d.wg.Add(1)
	d.mu.Unlock()

	go d.issue(cmdCtx, entry)
}

// requeueBusy re-enqueues an action whose resource is occupied. Priority and
// sequence number are untouched, so ordering never shifts because of a
// deferral. A Strategy-origin action that no longer fits is explicitly
// failed rather than silently dropped.
func (d *Dispatcher) requeueBusy(action schemas.Action) {
	err := d.queue.Enqueue(action)
	if errors.Is(err, queue.ErrQueueFull) {
		if dropped, ok := d.queue.DropLowestStrategy(); ok {
			// The displaced proposal gets an explicit terminal result;
			// nothing leaves the queue unaccounted for.
			d.deliver(schemas.CommandResult{
				Action:      dropped,
				Outcome:     schemas.OutcomeFailed,
				Reason:      schemas.ReasonEvicted,
				CompletedAt: time.Now(),
			})
			err = d.queue.Enqueue(action)
		}
	}
	if err != nil {
		d.deliver(schemas.CommandResult{
			Action:      action,
			Outcome:     schemas.OutcomeFailed,
			Reason:      schemas.ReasonCancelled,
			CompletedAt: time.Now(),
		})
		return
	}
	d.logger.Debug("deferred action, resource busy",
		zap.String("kind", string(action.Kind)),
		zap.String("resource", string(action.Resource())),
		zap.Uint64("seq", action.Seq),
	)
}

// issue runs in its own goroutine, retries transient faults within the
// per-kind deadline, classifies the outcome, and releases the resource.
func (d *Dispatcher) issue(ctx context.Context, entry *inflight) {
	defer d.wg.Done()
	defer d.release(entry)

	action := entry.action
	spec := schemas.SpecFor(action.Kind)

	maxAttempts := 1
	if spec.Retryable {
		maxAttempts += d.cfg.MaxRetries
	}

	var (
		attempts int
		err      error
	)
	for attempts < maxAttempts {
		attempts++
		err = d.actuator.Issue(ctx, action)
		if err == nil || ctx.Err() != nil || !schemas.Retryable(err) {
			break
		}
		// Retrying with the same sequence number keeps ordering
		// guarantees intact.
		d.logger.Warn("retrying transient actuator fault",
			zap.String("kind", string(action.Kind)),
			zap.Uint64("seq", action.Seq),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
	}

	result := schemas.CommandResult{
		Action:      action,
		Attempts:    attempts,
		CompletedAt: time.Now(),
	}
	switch {
	case err == nil:
		result.Outcome = schemas.OutcomeSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Outcome = schemas.OutcomeTimedOut
	case errors.Is(ctx.Err(), context.Canceled):
		result.Outcome = schemas.OutcomeFailed
		result.Reason = schemas.ReasonCancelled
	case schemas.Retryable(err):
		result.Outcome = schemas.OutcomeFailed
		result.Reason = schemas.ReasonRetryExhausted
	default:
		result.Outcome = schemas.OutcomeFailed
		result.Reason = err.Error()
	}
	entry.deliver(d, result)
}

// CancelAllExcept cooperatively aborts every in-flight command whose
// resource is not the one named. Each aborted command either reports its
// own Failed(cancelled) result promptly or has one synthesized after the
// grace period. Called on the transition into Faulted so the emergency
// stop's resource stays clear.
func (d *Dispatcher) CancelAllExcept(keep schemas.Resource) {
	d.mu.Lock()
	var cancelled []*inflight
	for res, entry := range d.inflight {
		if res == keep {
			continue
		}
		cancelled = append(cancelled, entry)
	}
	d.mu.Unlock()

	for _, entry := range cancelled {
		entry.cancel()
	}
	if len(cancelled) == 0 {
		return
	}
	d.logger.Warn("cancelling in-flight commands", zap.Int("count", len(cancelled)))

	time.AfterFunc(d.cfg.CancelGrace, func() {
		for _, entry := range cancelled {
			entry.deliver(d, schemas.CommandResult{
				Action:      entry.action,
				Outcome:     schemas.OutcomeFailed,
				Reason:      schemas.ReasonCancelled,
				CompletedAt: time.Now(),
			})
		}
	})
}

// FailPending reports an explicit terminal result for actions the executive
// pulled back out of the queue, typically on the way into Faulted. It runs
// on the control-cycle goroutine, so results are buffered for the next
// Drain instead of sent on the results channel: the control cycle is that
// channel's only consumer and must never wait on it.
func (d *Dispatcher) FailPending(actions []schemas.Action, reason string) {
	now := time.Now()
	for _, action := range actions {
		result := schemas.CommandResult{
			Action:      action,
			Outcome:     schemas.OutcomeFailed,
			Reason:      reason,
			CompletedAt: now,
		}
		d.record(result)
		d.pendingMu.Lock()
		d.pending = append(d.pending, result)
		d.pendingMu.Unlock()
	}
}

// Drain collects the control-side buffered results plus every result
// currently available on the channel, without blocking. The control cycle
// calls this at the top of each tick.
func (d *Dispatcher) Drain() []schemas.CommandResult {
	d.pendingMu.Lock()
	out := d.pending
	d.pending = nil
	d.pendingMu.Unlock()
	for {
		select {
		case r, ok := <-d.results:
			if !ok {
				return out
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

// History returns the retained record of completed commands, oldest first.
// Purely diagnostic; entries are copies.
func (d *Dispatcher) History() []schemas.CommandResult {
	return d.history.Snapshot()
}

// release frees the resource held by a finished command.
func (d *Dispatcher) release(entry *inflight) {
	entry.cancel()
	res := entry.action.Resource()
	d.mu.Lock()
	if d.inflight[res] == entry {
		delete(d.inflight, res)
	}
	d.mu.Unlock()
}

// record retains and logs a terminal result.
func (d *Dispatcher) record(result schemas.CommandResult) {
	d.history.Add(result)
	d.logger.Info("command result",
		zap.String("kind", string(result.Action.Kind)),
		zap.Uint64("seq", result.Action.Seq),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.Int("attempts", result.Attempts),
	)
}

// deliver records a result and sends it toward the control cycle. Sends may
// block briefly when the control cycle is behind; only dispatch-side
// goroutines ever sit in that wait, never the control cycle itself.
func (d *Dispatcher) deliver(result schemas.CommandResult) {
	d.record(result)
	d.results <- result
}

// deliver on an inflight entry funnels through the once guard.
func (f *inflight) deliver(d *Dispatcher, result schemas.CommandResult) {
	f.once.Do(func() { d.deliver(result) })
}
