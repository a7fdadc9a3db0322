package executive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/actuator"
	"github.com/breakaway-robotics/executive/internal/config"
	"github.com/breakaway-robotics/executive/internal/fsm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Executive.CyclePeriod = 5 * time.Millisecond
	cfg.Executive.MatchDuration = 0
	cfg.Queue.Capacity = 16
	cfg.Dispatcher.CancelGrace = 50 * time.Millisecond
	cfg.FSM.Watchdog = 2 * time.Second
	cfg.Sim.BaseLatency = time.Millisecond
	cfg.Sim.Jitter = 0
	return cfg
}

// statefulPlanner proposes the action that advances the current behavioral
// state, once per state visit. It stands in for the planning layer in
// end-to-end runs.
type statefulPlanner struct {
	mu   sync.Mutex
	exec *Executive
	last schemas.State
}

func (p *statefulPlanner) Next() (schemas.Recommendation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exec == nil {
		return schemas.Recommendation{}, false
	}

	state := p.exec.State()
	if state == p.last {
		return schemas.Recommendation{}, false
	}

	var kind schemas.ActionKind
	switch state {
	case schemas.StateSeeking:
		kind = schemas.KindDriveTo
	case schemas.StateAligning:
		kind = schemas.KindRotateTo
	case schemas.StateScoring:
		kind = schemas.KindLaunch
	default:
		return schemas.Recommendation{}, false
	}
	p.last = state
	return schemas.Recommendation{
		Kinds:      []schemas.ActionKind{kind},
		Params:     schemas.Params{TargetX: 1, TargetY: 2, Power: 0.9},
		Confidence: 0.9,
	}, true
}

// startRun launches Run on its own goroutine and returns a stop function.
func startRun(t *testing.T, exec *Executive) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("executive did not stop")
		}
	}
}

func TestFullScoringCycle(t *testing.T) {
	sim := actuator.NewSim(time.Millisecond, 0, zap.NewNop())
	planner := &statefulPlanner{}
	exec, err := New(Options{
		Config:          testConfig(),
		Actuator:        sim,
		Recommendations: planner,
	})
	require.NoError(t, err)
	planner.exec = exec

	stop := startRun(t, exec)
	defer stop()

	// Drive, rotate, launch each complete and push the state machine around
	// its scoring loop at least once.
	require.Eventually(t, func() bool {
		for _, a := range sim.Issued() {
			if a.Kind == schemas.KindLaunch {
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond, "launch never completed")

	kinds := map[schemas.ActionKind]bool{}
	for _, a := range sim.Issued() {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[schemas.KindDriveTo])
	assert.True(t, kinds[schemas.KindRotateTo])
	assert.True(t, kinds[schemas.KindLaunch])

	require.Eventually(t, func() bool {
		return len(exec.History()) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	for _, r := range exec.History() {
		assert.Equal(t, schemas.OutcomeSuccess, r.Outcome)
	}
}

func TestCriticalFaultTriggersEmergencyStop(t *testing.T) {
	sim := actuator.NewSim(time.Millisecond, 0, zap.NewNop())
	// A permanent drive fault; drive is a critical resource.
	sim.FailNext(schemas.KindDriveTo, errors.New("encoder disconnected"))

	planner := &statefulPlanner{}
	exec, err := New(Options{
		Config:          testConfig(),
		Actuator:        sim,
		Recommendations: planner,
	})
	require.NoError(t, err)
	planner.exec = exec

	stop := startRun(t, exec)
	defer stop()

	require.Eventually(t, func() bool {
		return exec.State() == schemas.StateFaulted
	}, 10*time.Second, 10*time.Millisecond, "fault never latched")

	// The stop command itself still goes to hardware.
	require.Eventually(t, func() bool {
		for _, a := range sim.Issued() {
			if a.Kind == schemas.KindEmergencyStop {
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond, "emergency stop never issued")
	for _, a := range sim.Issued() {
		if a.Kind == schemas.KindEmergencyStop {
			assert.Equal(t, fsm.EmergencyStopPriority, a.Priority)
			assert.Equal(t, schemas.OriginFSM, a.Origin)
		}
	}

	// Faulted is sticky until the external reset.
	assert.Equal(t, schemas.StateFaulted, exec.State())
	require.NoError(t, exec.Reset())
	assert.Equal(t, schemas.StateIdle, exec.State())

	// Resetting twice is a caller error.
	assert.ErrorIs(t, exec.Reset(), fsm.ErrNotFaulted)
}

func TestMatchClockEndsTheRun(t *testing.T) {
	cfg := testConfig()
	cfg.Executive.MatchDuration = 100 * time.Millisecond

	sim := actuator.NewSim(time.Millisecond, 0, zap.NewNop())
	exec, err := New(Options{Config: cfg, Actuator: sim})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("match clock did not end the run")
	}
}

func TestRunWithoutRecommendationsStaysInSeeking(t *testing.T) {
	sim := actuator.NewSim(time.Millisecond, 0, zap.NewNop())
	exec, err := New(Options{Config: testConfig(), Actuator: sim})
	require.NoError(t, err)

	stop := startRun(t, exec)
	defer stop()

	require.Eventually(t, func() bool {
		return exec.State() == schemas.StateSeeking
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, schemas.StateSeeking, exec.State())
	assert.Empty(t, sim.Issued())
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	sim := actuator.NewSim(0, 0, zap.NewNop())

	_, err := New(Options{Actuator: sim})
	assert.Error(t, err)

	_, err = New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestRunIDsAreUniquePerExecutive(t *testing.T) {
	sim := actuator.NewSim(0, 0, zap.NewNop())
	a, err := New(Options{Config: testConfig(), Actuator: sim})
	require.NoError(t, err)
	b, err := New(Options{Config: testConfig(), Actuator: sim})
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID(), b.RunID())
}
