package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/nucleus/internal/config"
	"github.com/zeusync/nucleus/internal/core/ecs"
)

func engine(tps uint16) config.EngineConfig {
	cfg := config.Default().Engine
	cfg.TargetTPS = tps
	return cfg
}

func TestRunFrames(t *testing.T) {
	m := ecs.NewManager()
	var deltas []time.Duration
	_, err := m.RegisterSystem(ecs.SystemConfig{Name: "counter", System: ecs.SystemFunc(func(ctx *ecs.Context) {
		deltas = append(deltas, ctx.Delta())
	})})
	require.NoError(t, err)

	r := New(m, engine(50), nil)
	require.NoError(t, r.RunFrames(5))
	assert.Equal(t, uint64(5), r.Frames())
	assert.Equal(t, uint64(4), r.Last().Frame)
	require.Len(t, deltas, 5)
	assert.Equal(t, 20*time.Millisecond, deltas[0])
}

func TestRunFramesSurvivesBudget(t *testing.T) {
	m := ecs.NewManager(ecs.WithStageBudget(4))
	require.NoError(t, m.AddStage("loop", 0))
	_, err := m.RegisterSystem(ecs.SystemConfig{Name: "loop", Stage: "loop", System: ecs.SystemFunc(func(ctx *ecs.Context) {
		_ = ctx.Invoke("loop", ecs.EndFrame)
	})})
	require.NoError(t, err)
	_, err = m.RegisterSystem(ecs.SystemConfig{Name: "kick", System: ecs.SystemFunc(func(ctx *ecs.Context) {
		_ = ctx.Invoke("loop", ecs.EndFrame)
	})})
	require.NoError(t, err)

	r := New(m, engine(60), nil)
	require.NoError(t, r.RunFrames(3))
	assert.Equal(t, uint64(3), r.Frames())
	assert.Equal(t, uint64(3), r.BudgetExceeded())
}

type panicky struct{}

func (panicky) Setup(*ecs.Resolver) error        { return nil }
func (panicky) RunParallel(*ecs.ParallelContext) { panic("boom") }

func TestRunFramesStopsOnFailure(t *testing.T) {
	m := ecs.NewManager(ecs.WithParallel(true))
	for _, name := range []string{"a", "b"} {
		_, err := m.RegisterSystem(ecs.SystemConfig{Name: name, Parallel: true, System: panicky{}})
		require.NoError(t, err)
	}

	r := New(m, engine(60), nil)
	err := r.RunFrames(3)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ecs.ErrStageBudgetExceeded))
	assert.Equal(t, uint64(1), r.Frames())
}

func TestRunUntilCancelled(t *testing.T) {
	m := ecs.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := m.RegisterSystem(ecs.SystemConfig{Name: "stopper", System: ecs.SystemFunc(func(c *ecs.Context) {
		if c.Frame() == 2 {
			cancel()
		}
	})})
	require.NoError(t, err)

	r := New(m, engine(1000), nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.GreaterOrEqual(t, r.Frames(), uint64(3))
}
