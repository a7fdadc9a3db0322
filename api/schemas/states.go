package schemas

// -- Behavioral State Schemas --

// State is the robot's behavioral mode. Exactly one state is current at any
// time; the transition graph is fixed at startup.
type State string

const (
	StateIdle       State = "IDLE"
	StateSeeking    State = "SEEKING"
	StateAligning   State = "ALIGNING"
	StateScoring    State = "SCORING"
	StateRecovering State = "RECOVERING"
	// StateFaulted is the sink state entered on unrecoverable actuator
	// failure. Only an explicit external reset leaves it.
	StateFaulted State = "FAULTED"
)

// States lists every behavioral state in declaration order.
func States() []State {
	return []State{
		StateIdle,
		StateSeeking,
		StateAligning,
		StateScoring,
		StateRecovering,
		StateFaulted,
	}
}

// RejectReason explains why the FSM refused a proposed action.
type RejectReason string

const (
	// ReasonStateNotAdmissible means the action kind is not on the current
	// state's whitelist. The proposer must discard the action, not retry it.
	ReasonStateNotAdmissible RejectReason = "state_not_admissible"
)

// Decision is the FSM's answer to a proposed action.
type Decision struct {
	Admitted bool
	Reason   RejectReason
}

// Admit is the affirmative decision.
func Admit() Decision { return Decision{Admitted: true} }

// Reject refuses a proposal with a reason.
func Reject(reason RejectReason) Decision {
	return Decision{Admitted: false, Reason: reason}
}
