package schemas

import (
	"sync/atomic"
	"time"
)

// -- Action Schemas --

// ActionKind identifies a concrete actuator operation.
type ActionKind string

const (
	KindDriveTo       ActionKind = "DRIVE_TO"
	KindRotateTo      ActionKind = "ROTATE_TO"
	KindHoldPosition  ActionKind = "HOLD_POSITION"
	KindRaiseArm      ActionKind = "RAISE_ARM"
	KindLowerArm      ActionKind = "LOWER_ARM"
	KindRunIntake     ActionKind = "RUN_INTAKE"
	KindLaunch        ActionKind = "LAUNCH"
	KindEmergencyStop ActionKind = "EMERGENCY_STOP"
)

// Resource names a physical actuator subsystem. The dispatcher allows at
// most one in-flight command per resource.
type Resource string

const (
	ResourceDrive    Resource = "drive"
	ResourceArm      Resource = "arm"
	ResourceIntake   Resource = "intake"
	ResourceLauncher Resource = "launcher"
	// ResourceEStop is reserved for the synthetic EmergencyStop broadcast.
	// It is never held by a normal command, so an emergency stop can always
	// be issued immediately.
	ResourceEStop Resource = "estop"
)

// Origin records which component created an Action. Only Strategy-origin
// actions may be evicted from a full queue.
type Origin string

const (
	OriginFSM      Origin = "fsm"
	OriginStrategy Origin = "strategy"
)

// Params carries the small fixed parameter set an actuator command needs.
// Unused fields are zero for kinds that do not take them.
type Params struct {
	TargetX    float64 `json:"target_x,omitempty"`
	TargetY    float64 `json:"target_y,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`
	Power      float64 `json:"power,omitempty"`
}

// Action is an immutable request to operate a specific actuator. It is
// always passed by value; nothing mutates an Action after creation.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Params    Params     `json:"params"`
	Priority  int        `json:"priority"`
	Seq       uint64     `json:"seq"`
	Origin    Origin     `json:"origin"`
	CreatedAt time.Time  `json:"created_at"`
}

// Resource resolves the actuator resource this action targets.
func (a Action) Resource() Resource {
	return SpecFor(a.Kind).Resource
}

// Deadline is the latest instant at which the action may still be issued.
// Past it the dispatcher reports TimedOut without touching hardware.
func (a Action) Deadline() time.Time {
	return a.CreatedAt.Add(SpecFor(a.Kind).Timeout)
}

// Before reports whether a sorts ahead of b in the queue: higher priority
// first, then lower sequence number within equal priority.
func (a Action) Before(b Action) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// KindSpec describes the static per-kind dispatch policy.
type KindSpec struct {
	Resource  Resource
	Timeout   time.Duration
	Retryable bool
	Motion    bool
}

// kindSpecs is the static registry of actuator operations. Loaded once,
// immutable thereafter.
var kindSpecs = map[ActionKind]KindSpec{
	KindDriveTo:       {Resource: ResourceDrive, Timeout: 4 * time.Second, Retryable: false, Motion: true},
	KindRotateTo:      {Resource: ResourceDrive, Timeout: 2 * time.Second, Retryable: false, Motion: true},
	KindHoldPosition:  {Resource: ResourceDrive, Timeout: 2 * time.Second, Retryable: true, Motion: true},
	KindRaiseArm:      {Resource: ResourceArm, Timeout: 1500 * time.Millisecond, Retryable: true, Motion: true},
	KindLowerArm:      {Resource: ResourceArm, Timeout: 1500 * time.Millisecond, Retryable: true, Motion: true},
	KindRunIntake:     {Resource: ResourceIntake, Timeout: 3 * time.Second, Retryable: true, Motion: false},
	KindLaunch:        {Resource: ResourceLauncher, Timeout: 2 * time.Second, Retryable: false, Motion: false},
	KindEmergencyStop: {Resource: ResourceEStop, Timeout: time.Second, Retryable: true, Motion: false},
}

// SpecFor returns the dispatch policy for a kind. Unknown kinds get a
// conservative non-retryable drive spec so a misconfigured action still
// times out instead of hanging.
func SpecFor(kind ActionKind) KindSpec {
	if spec, ok := kindSpecs[kind]; ok {
		return spec
	}
	return KindSpec{Resource: ResourceDrive, Timeout: time.Second}
}

// Kinds returns every registered action kind. Order is unspecified.
func Kinds() []ActionKind {
	out := make([]ActionKind, 0, len(kindSpecs))
	for k := range kindSpecs {
		out = append(out, k)
	}
	return out
}

// Sequencer hands out monotonically increasing sequence numbers. A single
// instance is shared by every component that creates Actions, which is what
// keeps sequence numbers unique across origins.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}
