package schemas

import "time"

// -- Planning Layer Input --

// Recommendation is an externally generated strategic suggestion. It is
// untrusted, possibly stale input: nothing in it is binding until the
// strategy manager converts it into actions and the FSM admits them.
type Recommendation struct {
	Kinds      []ActionKind `json:"kinds"`
	Params     Params       `json:"params"`
	Confidence float64      `json:"confidence"`
	NotBefore  time.Time    `json:"not_before"`
	NotAfter   time.Time    `json:"not_after"`
}

// Valid reports whether now falls inside the recommendation's validity
// window. A zero NotBefore/NotAfter leaves that bound open.
func (r Recommendation) Valid(now time.Time) bool {
	if !r.NotBefore.IsZero() && now.Before(r.NotBefore) {
		return false
	}
	if !r.NotAfter.IsZero() && now.After(r.NotAfter) {
		return false
	}
	return true
}

// FilteredReading is the behavioral layer's filtered sensor snapshot. The
// executive only touches it when deriving action parameters; fusion and
// filtering happen upstream.
type FilteredReading struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	HeadingDeg float64   `json:"heading_deg"`
	TargetSeen bool      `json:"target_seen"`
	Timestamp  time.Time `json:"timestamp"`
}
