package physics

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/nucleus/internal/core/ecs"
)

func TestMovementAddsVelocity(t *testing.T) {
	m := ecs.NewManager()
	w, err := Register(m, Options{})
	require.NoError(t, err)

	var moving, still ecs.Entity
	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.WriteOf(ctx, w.Position)
		velocities, _ := ecs.WriteOf(ctx, w.Velocity)
		moving = ctx.Create()
		positions.Add(moving, Position{X: 1, Y: 2})
		velocities.Add(moving, Velocity{X: 3, Y: 4})
		still = ctx.Create()
		positions.Add(still, Position{X: 5, Y: 6})
	})

	require.NoError(t, m.Update(time.Second/60))

	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.ReadOf(ctx, w.Position)
		p, ok := positions.Get(moving)
		require.True(t, ok)
		assert.Equal(t, Position{X: 4, Y: 6}, p)
		p, _ = positions.Get(still)
		assert.Equal(t, Position{X: 5, Y: 6}, p)
	})
	assert.InDelta(t, 25.0, w.Energy.Total(), 1e-9)
}

func TestMovementPerSecond(t *testing.T) {
	m := ecs.NewManager()
	w, err := Register(m, Options{PerSecond: true})
	require.NoError(t, err)

	var e ecs.Entity
	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.WriteOf(ctx, w.Position)
		velocities, _ := ecs.WriteOf(ctx, w.Velocity)
		e = ctx.Create()
		positions.Add(e, Position{})
		velocities.Add(e, Velocity{X: 10})
	})
	require.NoError(t, m.Update(500*time.Millisecond))

	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.ReadOf(ctx, w.Position)
		p, _ := positions.Get(e)
		assert.InDelta(t, 5.0, p.X, 1e-9)
	})
}

func TestBoundsWrapPositions(t *testing.T) {
	m := ecs.NewManager()
	w, err := Register(m, Options{Width: 10, Height: 10})
	require.NoError(t, err)

	var e ecs.Entity
	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.WriteOf(ctx, w.Position)
		velocities, _ := ecs.WriteOf(ctx, w.Velocity)
		e = ctx.Create()
		positions.Add(e, Position{X: 9, Y: 1})
		velocities.Add(e, Velocity{X: 3, Y: -2})
	})
	require.NoError(t, m.Update(time.Millisecond))

	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.ReadOf(ctx, w.Position)
		p, _ := positions.Get(e)
		assert.InDelta(t, 2.0, p.X, 1e-9)
		assert.InDelta(t, 9.0, p.Y, 1e-9)
	})
}

func TestSpawnStaysInBounds(t *testing.T) {
	m := ecs.NewManager(ecs.WithParallel(true))
	w, err := Register(m, Options{Width: 100, Height: 50})
	require.NoError(t, err)

	entities := w.Spawn(m, rand.New(rand.NewPCG(3, 4)), 200, 5)
	require.Len(t, entities, 200)
	assert.Equal(t, 200, m.Entities())

	for range 30 {
		require.NoError(t, m.Update(time.Second/60))
	}
	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.ReadOf(ctx, w.Position)
		for _, e := range entities {
			p, ok := positions.Get(e)
			require.True(t, ok)
			assert.True(t, p.X >= 0 && p.X < 100 && p.Y >= 0 && p.Y < 50, "%v out of bounds", p)
		}
	})
	assert.Positive(t, w.Energy.Total())
}

func TestVec2(t *testing.T) {
	v := Vec2{X: 3, Y: 4}
	assert.Equal(t, 5.0, v.Len())
	assert.Equal(t, Vec2{X: 4, Y: 6}, v.Add(Vec2{X: 1, Y: 2}))
	assert.Equal(t, Vec2{X: 1.5, Y: 2}, v.Scale(0.5))
	assert.InDelta(t, 9.0, wrap(-1, 10), 1e-9)
	assert.InDelta(t, 2.0, wrap(12, 10), 1e-9)
}

func TestRegisterTwiceFails(t *testing.T) {
	m := ecs.NewManager()
	_, err := Register(m, Options{})
	require.NoError(t, err)
	_, err = Register(m, Options{})
	assert.ErrorIs(t, err, ecs.ErrDuplicateComponent)
}
