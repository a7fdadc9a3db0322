package fsm

import (
	"time"

	"github.com/breakaway-robotics/executive/api/schemas"
)

// Whitelist maps each state to the action kinds it admits.
type Whitelist map[schemas.State][]schemas.ActionKind

// Transition priorities. Safety outranks recovery outranks progress;
// declaration order settles anything left.
const (
	priorityFault    = 100
	priorityWatchdog = 90
	priorityRecover  = 50
	priorityProgress = 10
)

// TableConfig tunes the default transition graph.
type TableConfig struct {
	// Watchdog bounds time-in-state for every active state. Exceeding it
	// is treated as unrecoverable.
	Watchdog time.Duration
	// CriticalResources are actuators whose fatal results drive the
	// machine straight to Faulted instead of Recovering.
	CriticalResources []schemas.Resource
}

// DefaultWhitelist is the reference admission table. Idle admits nothing:
// the robot holds still until the match begins. Faulted is absent, which
// rejects everything until reset.
func DefaultWhitelist() Whitelist {
	return Whitelist{
		schemas.StateIdle:       {},
		schemas.StateSeeking:    {schemas.KindDriveTo, schemas.KindRotateTo, schemas.KindRunIntake},
		schemas.StateAligning:   {schemas.KindDriveTo, schemas.KindRotateTo, schemas.KindRaiseArm},
		schemas.StateScoring:    {schemas.KindLaunch, schemas.KindRaiseArm, schemas.KindLowerArm},
		schemas.StateRecovering: {schemas.KindHoldPosition, schemas.KindLowerArm},
	}
}

// DefaultTable builds the reference transition graph. Declaration order
// matters: it is the tie-break between equal-priority triggers.
func DefaultTable(cfg TableConfig) []Transition {
	critical := make(map[schemas.Resource]bool, len(cfg.CriticalResources))
	for _, r := range cfg.CriticalResources {
		critical[r] = true
	}

	return []Transition{
		{
			Name:     "critical_actuator_fault",
			From:     AnyState,
			To:       schemas.StateFaulted,
			Priority: priorityFault,
			When:     onFatalResult(critical),
		},
		{
			Name:     "watchdog_expired",
			From:     schemas.StateSeeking,
			To:       schemas.StateFaulted,
			Priority: priorityWatchdog,
			When:     watchdogExpired(cfg.Watchdog),
		},
		{
			Name:     "watchdog_expired",
			From:     schemas.StateAligning,
			To:       schemas.StateFaulted,
			Priority: priorityWatchdog,
			When:     watchdogExpired(cfg.Watchdog),
		},
		{
			Name:     "watchdog_expired",
			From:     schemas.StateScoring,
			To:       schemas.StateFaulted,
			Priority: priorityWatchdog,
			When:     watchdogExpired(cfg.Watchdog),
		},
		{
			Name:     "watchdog_expired",
			From:     schemas.StateRecovering,
			To:       schemas.StateFaulted,
			Priority: priorityWatchdog,
			When:     watchdogExpired(cfg.Watchdog),
		},
		{
			Name:     "command_failed_recoverably",
			From:     AnyState,
			To:       schemas.StateRecovering,
			Priority: priorityRecover,
			When:     onRecoverableFailure(critical),
			Emit:     &Emit{Kind: schemas.KindHoldPosition, Priority: 80},
		},
		{
			Name:     "target_reached",
			From:     schemas.StateSeeking,
			To:       schemas.StateAligning,
			Priority: priorityProgress,
			When:     onSuccess(schemas.KindDriveTo),
		},
		{
			Name:     "aligned_on_target",
			From:     schemas.StateAligning,
			To:       schemas.StateScoring,
			Priority: priorityProgress,
			When:     onSuccess(schemas.KindRotateTo),
		},
		{
			Name:     "score_delivered",
			From:     schemas.StateScoring,
			To:       schemas.StateSeeking,
			Priority: priorityProgress,
			When:     onSuccess(schemas.KindLaunch),
		},
		{
			Name:     "recovered",
			From:     schemas.StateRecovering,
			To:       schemas.StateSeeking,
			Priority: priorityProgress,
			When:     onSuccess(schemas.KindHoldPosition),
		},
	}
}

// onSuccess fires on a successful result for the given kind.
func onSuccess(kind schemas.ActionKind) TriggerFunc {
	return func(ev Evidence) bool {
		for _, r := range ev.Results {
			if r.Action.Kind == kind && r.Outcome == schemas.OutcomeSuccess {
				return true
			}
		}
		return false
	}
}

// onFatalResult fires on a fatal result for a critical resource.
func onFatalResult(critical map[schemas.Resource]bool) TriggerFunc {
	return func(ev Evidence) bool {
		for _, r := range ev.Results {
			if r.Fatal() && critical[r.Action.Resource()] {
				return true
			}
		}
		return false
	}
}

// onRecoverableFailure fires on a fatal result for a non-critical resource.
func onRecoverableFailure(critical map[schemas.Resource]bool) TriggerFunc {
	return func(ev Evidence) bool {
		for _, r := range ev.Results {
			if r.Fatal() && !critical[r.Action.Resource()] {
				return true
			}
		}
		return false
	}
}

// watchdogExpired fires when time-in-state exceeds the bound. It is only
// declared for active states; a robot idling before the match is not
// stuck. A zero bound disables the watchdog.
func watchdogExpired(bound time.Duration) TriggerFunc {
	return func(ev Evidence) bool {
		return bound > 0 && ev.InState > bound
	}
}
