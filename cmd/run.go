package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/actuator"
	"github.com/breakaway-robotics/executive/internal/executive"
	"github.com/breakaway-robotics/executive/internal/observability"
	"github.com/breakaway-robotics/executive/internal/telemetry"
)

// newRunCmd creates the `run` command: one full match run of the executive.
func newRunCmd() *cobra.Command {
	var (
		sim      bool
		mode     string
		duration time.Duration
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control executive for one match",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := configFromContext(ctx)

			if duration > 0 {
				cfg.Executive.MatchDuration = duration
			}

			if !sim {
				// The hardware bridge registers itself through the
				// actuator interface; only the simulator ships in this
				// binary.
				return errors.New("no hardware actuator bridge available; use --sim")
			}
			act := actuator.NewSim(cfg.Sim.BaseLatency, cfg.Sim.Jitter, logger)

			var recs schemas.RecommendationSource
			switch mode {
			case "auto":
				recs = newScriptedPlanner(cfg.Executive.CyclePeriod * 4)
			case "teleop":
				// Teleop input arrives through the driver-station
				// bridge, which is outside this binary. The executive
				// still runs; it just gets no proposals.
				logger.Warn("teleop mode without a driver-station bridge; no recommendations will arrive")
			default:
				return fmt.Errorf("unknown mode %q (want auto or teleop)", mode)
			}

			bus := telemetry.NewBus(cfg.Executive.TelemetryBuffer)
			exec, err := executive.New(executive.Options{
				Config:          cfg,
				Logger:          logger,
				Actuator:        act,
				Recommendations: recs,
				Bus:             bus,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize executive: %w", err)
			}

			logger.Info("match run configured",
				zap.String("run_id", exec.RunID()),
				zap.String("mode", mode),
				zap.Bool("sim", sim),
			)

			if err := exec.Run(ctx); err != nil {
				return err
			}

			for _, r := range exec.History() {
				logger.Info("command record",
					zap.String("kind", string(r.Action.Kind)),
					zap.Uint64("seq", r.Action.Seq),
					zap.String("outcome", string(r.Outcome)),
				)
			}
			logger.Info("final state", zap.String("state", string(exec.State())))
			return nil
		},
	}

	runCmd.Flags().BoolVar(&sim, "sim", false, "drive a simulated actuator instead of hardware")
	runCmd.Flags().StringVar(&mode, "mode", "auto", "run mode: auto or teleop")
	runCmd.Flags().DurationVar(&duration, "match-duration", 0, "override the configured match clock")

	return runCmd
}

// scriptedPlanner is a stand-in planning layer for simulated runs. It
// cycles drive / rotate / launch suggestions at a fixed cadence, each with
// a short validity window, which is enough to push the FSM around its
// happy path.
type scriptedPlanner struct {
	mu      sync.Mutex
	period  time.Duration
	nextAt  time.Time
	step    int
	scripts []schemas.Recommendation
}

func newScriptedPlanner(period time.Duration) *scriptedPlanner {
	return &scriptedPlanner{
		period: period,
		scripts: []schemas.Recommendation{
			{Kinds: []schemas.ActionKind{schemas.KindDriveTo}, Params: schemas.Params{TargetX: 3.2, TargetY: 1.4}, Confidence: 0.9},
			{Kinds: []schemas.ActionKind{schemas.KindRunIntake}, Params: schemas.Params{Power: 0.8}, Confidence: 0.6},
			{Kinds: []schemas.ActionKind{schemas.KindRotateTo}, Params: schemas.Params{HeadingDeg: 45}, Confidence: 0.85},
			{Kinds: []schemas.ActionKind{schemas.KindLaunch}, Params: schemas.Params{Power: 1.0}, Confidence: 0.95},
		},
	}
}

// Next emits the next scripted recommendation once per period.
func (p *scriptedPlanner) Next() (schemas.Recommendation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Before(p.nextAt) {
		return schemas.Recommendation{}, false
	}
	p.nextAt = now.Add(p.period)

	rec := p.scripts[p.step%len(p.scripts)]
	p.step++
	rec.NotBefore = now
	rec.NotAfter = now.Add(p.period * 2)
	return rec, true
}
