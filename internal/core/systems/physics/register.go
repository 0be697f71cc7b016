package physics

import (
	"math/rand/v2"

	"github.com/zeusync/nucleus/internal/core/ecs"
)

// Options configures Register. A zero Width or Height disables wrapping.
type Options struct {
	PerSecond bool
	Width     float64
	Height    float64
}

// World is what Register installed on a manager.
type World struct {
	Components
	Movement *Movement
	Bounds   *Bounds
	Energy   *Energy
}

// Register declares the physics components and systems on the tick stage.
// Movement runs first, then the optional wrapping, then the energy sum.
func Register(m *ecs.Manager, opts Options) (*World, error) {
	components, err := RegisterComponents(m)
	if err != nil {
		return nil, err
	}
	w := &World{
		Components: components,
		Movement:   &Movement{PerSecond: opts.PerSecond},
		Energy:     &Energy{},
	}

	if _, err := m.RegisterSystem(ecs.SystemConfig{
		Name:   "physics.movement",
		Reads:  []string{VelocityName},
		Writes: []string{PositionName},
		System: w.Movement,
	}); err != nil {
		return nil, err
	}

	if opts.Width > 0 && opts.Height > 0 {
		w.Bounds = &Bounds{Width: opts.Width, Height: opts.Height}
		if _, err := m.RegisterSystem(ecs.SystemConfig{
			Name:   "physics.bounds",
			Order:  1,
			Writes: []string{PositionName},
			System: w.Bounds,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := m.RegisterSystem(ecs.SystemConfig{
		Name:     "physics.energy",
		Order:    2,
		Reads:    []string{VelocityName},
		Parallel: true,
		System:   w.Energy,
	}); err != nil {
		return nil, err
	}
	return w, nil
}

// Spawn creates n entities with a random position inside the area (or the
// unit square when unbounded) and a random velocity of at most maxSpeed.
func (w *World) Spawn(m *ecs.Manager, rng *rand.Rand, n int, maxSpeed float64) []ecs.Entity {
	width, height := 1.0, 1.0
	if w.Bounds != nil {
		width, height = w.Bounds.Width, w.Bounds.Height
	}
	entities := make([]ecs.Entity, 0, n)
	m.Exec(func(ctx *ecs.Context) {
		positions, _ := ecs.WriteOf(ctx, w.Position)
		velocities, _ := ecs.WriteOf(ctx, w.Velocity)
		for range n {
			e := ctx.Create()
			positions.Add(e, Position{X: rng.Float64() * width, Y: rng.Float64() * height})
			velocities.Add(e, Velocity{
				X: (rng.Float64()*2 - 1) * maxSpeed,
				Y: (rng.Float64()*2 - 1) * maxSpeed,
			})
			entities = append(entities, e)
		}
	})
	return entities
}
