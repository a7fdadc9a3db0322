package schemas

import (
	"context"
	"errors"
	"fmt"
)

// -- External Collaborator Interfaces --

// Actuator is the hardware boundary. Issue blocks until the command
// completes, fails, or ctx is done; the dispatcher isolates that latency
// from the control cycle. An error wrapping ErrRetryable marks a transient
// fault that is safe to retry for kinds declared retryable.
type Actuator interface {
	Issue(ctx context.Context, action Action) error
}

// RecommendationSource feeds strategic suggestions from the planning layer.
// Next never blocks; ok is false when nothing is pending.
type RecommendationSource interface {
	Next() (rec Recommendation, ok bool)
}

// SensorProvider is the behavioral layer's pull interface for filtered
// readings. The executive consumes it only to parameterize actions.
type SensorProvider interface {
	ReadFiltered(ctx context.Context) (FilteredReading, error)
}

// ErrRetryable marks transient actuator faults. Wrap it:
//
//	fmt.Errorf("%w: bus contention", schemas.ErrRetryable)
var ErrRetryable = errors.New("retryable actuator fault")

// Retryable reports whether an actuator error may be retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// RetryableErrorf builds a retryable actuator error.
func RetryableErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrRetryable}, args...)...)
}
