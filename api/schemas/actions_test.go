package schemas

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeforeOrdersPriorityDescThenSeqAsc(t *testing.T) {
	high := Action{Priority: 50, Seq: 9}
	low := Action{Priority: 10, Seq: 1}
	assert.True(t, high.Before(low))
	assert.False(t, low.Before(high))

	early := Action{Priority: 50, Seq: 1}
	late := Action{Priority: 50, Seq: 2}
	assert.True(t, early.Before(late))
	assert.False(t, late.Before(early))
}

func TestDeadlineDerivesFromKindTimeout(t *testing.T) {
	created := time.Now()
	a := Action{Kind: KindDriveTo, CreatedAt: created}
	assert.Equal(t, created.Add(SpecFor(KindDriveTo).Timeout), a.Deadline())
}

func TestEveryKindHasAResourceAndTimeout(t *testing.T) {
	for _, kind := range Kinds() {
		spec := SpecFor(kind)
		assert.NotEmpty(t, spec.Resource, "kind %s", kind)
		assert.Greater(t, spec.Timeout, time.Duration(0), "kind %s", kind)
	}
}

func TestSpecForUnknownKindFallsBack(t *testing.T) {
	spec := SpecFor(ActionKind("TELEPORT"))
	assert.Equal(t, ResourceDrive, spec.Resource)
	assert.Greater(t, spec.Timeout, time.Duration(0))
}

func TestMotionKindsShareTheExpectedResources(t *testing.T) {
	assert.Equal(t, ResourceDrive, Action{Kind: KindDriveTo}.Resource())
	assert.Equal(t, ResourceDrive, Action{Kind: KindRotateTo}.Resource())
	assert.Equal(t, ResourceArm, Action{Kind: KindRaiseArm}.Resource())
	assert.Equal(t, ResourceArm, Action{Kind: KindLowerArm}.Resource())
	assert.Equal(t, ResourceLauncher, Action{Kind: KindLaunch}.Resource())
	assert.Equal(t, ResourceEStop, Action{Kind: KindEmergencyStop}.Resource())
}

func TestSequencerIsMonotoneUnderConcurrency(t *testing.T) {
	seq := &Sequencer{}

	const workers = 8
	const perWorker = 100
	var wg sync.WaitGroup
	out := make(chan uint64, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				out <- seq.Next()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint64]bool, workers*perWorker)
	for v := range out {
		require.False(t, seen[v], "duplicate sequence number %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.False(t, seen[0], "sequence numbers start at 1")
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(RetryableErrorf("transient %s fault", "intake")))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", ErrRetryable)))
	assert.False(t, Retryable(errors.New("permanent")))
	assert.False(t, Retryable(nil))
}

func TestResultFatality(t *testing.T) {
	assert.True(t, CommandResult{Outcome: OutcomeTimedOut}.Fatal())
	assert.True(t, CommandResult{Outcome: OutcomeFailed, Reason: ReasonRetryExhausted}.Fatal())
	assert.False(t, CommandResult{Outcome: OutcomeFailed, Reason: ReasonCancelled}.Fatal())
	assert.False(t, CommandResult{Outcome: OutcomeFailed, Reason: ReasonEvicted}.Fatal())
	assert.False(t, CommandResult{Outcome: OutcomeSuccess}.Fatal())
}

func TestRecommendationValidityWindow(t *testing.T) {
	now := time.Now()

	assert.True(t, Recommendation{}.Valid(now), "zero bounds mean always valid")
	assert.True(t, Recommendation{NotBefore: now.Add(-time.Second)}.Valid(now))
	assert.False(t, Recommendation{NotBefore: now.Add(time.Second)}.Valid(now))
	assert.False(t, Recommendation{NotAfter: now.Add(-time.Second)}.Valid(now))
	assert.True(t, Recommendation{
		NotBefore: now.Add(-time.Second),
		NotAfter:  now.Add(time.Second),
	}.Valid(now))
}
