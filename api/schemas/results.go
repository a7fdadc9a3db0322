package schemas

import "time"

// -- Command Result Schemas --

// Outcome classifies how a dispatched command ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

// Well-known failure reasons. Free-form actuator errors are carried verbatim.
const (
	ReasonCancelled      = "cancelled"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonStale          = "stale_before_dispatch"
	ReasonEvicted        = "evicted_under_queue_pressure"
)

// CommandResult is produced by the dispatcher for every action it owned and
// consumed by the FSM as a transition trigger. After delivery it is a
// read-only historical record.
type CommandResult struct {
	Action      Action    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

// Fatal reports whether this result should be treated as unrecoverable for
// the resource it ran on: a timeout, or a terminal failure that was not a
// cooperative cancellation.
func (r CommandResult) Fatal() bool {
	switch r.Outcome {
	case OutcomeTimedOut:
		return true
	case OutcomeFailed:
		// Cancellations and queue evictions never ran on hardware; they
		// say nothing about the resource's health.
		return r.Reason != ReasonCancelled && r.Reason != ReasonEvicted
	default:
		return false
	}
}
