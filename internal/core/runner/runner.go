package runner

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/nucleus/internal/config"
	"github.com/zeusync/nucleus/internal/core/ecs"
	"github.com/zeusync/nucleus/internal/core/observability/log"
)

// Runner drives a manager at a fixed simulated delta.
type Runner struct {
	m      *ecs.Manager
	delta  time.Duration
	logger log.Log

	frames   uint64
	exceeded uint64
	last     ecs.FrameStats
}

func New(m *ecs.Manager, cfg config.EngineConfig, logger log.Log) *Runner {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runner{
		m:      m,
		delta:  cfg.TickDelta(),
		logger: logger,
	}
}

func (r *Runner) Delta() time.Duration { return r.delta }

// Frames is the number of frames run so far.
func (r *Runner) Frames() uint64 { return r.frames }

// BudgetExceeded counts frames cut short by the stage budget.
func (r *Runner) BudgetExceeded() uint64 { return r.exceeded }

// Last returns the statistics of the last completed frame.
func (r *Runner) Last() ecs.FrameStats { return r.last }

// step runs one frame. A frame cut short by the stage budget still counts
// and does not stop the run.
func (r *Runner) step(ctx context.Context) error {
	err := r.m.Update(r.delta)
	r.frames++
	r.last = r.m.Stats()
	if err == nil {
		return nil
	}
	if errors.Is(err, ecs.ErrStageBudgetExceeded) {
		r.exceeded++
		return nil
	}
	r.logger.WithContext(log.ContextWithFrame(ctx, r.last.Frame)).Error("frame failed", log.Error(err))
	return err
}

// RunFrames runs n frames back to back without waiting between them.
func (r *Runner) RunFrames(n int) error {
	started := time.Now()
	for range n {
		if err := r.step(context.Background()); err != nil {
			return err
		}
	}
	r.logger.Info("frames completed",
		log.Int("frames", n),
		log.Duration("elapsed", time.Since(started)),
		log.Uint64("budget_exceeded", r.exceeded),
	)
	return nil
}

// Run drives one frame per delta of wall time until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", log.Duration("delta", r.delta))

	ticker := time.NewTicker(r.delta)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.step(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			r.logger.Info("runner stopped",
				log.Uint64("frames", r.frames),
				log.Uint64("budget_exceeded", r.exceeded),
			)
			return nil
		}
	}
}
