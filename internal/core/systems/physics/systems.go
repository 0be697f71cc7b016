package physics

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/nucleus/internal/core/ecs"
)

// Movement adds each entity's velocity to its position once per frame. With
// PerSecond the velocity is scaled by the frame delta instead.
type Movement struct {
	PerSecond bool

	positions  ecs.WriteView[Position]
	velocities ecs.ReadView[Velocity]
	moving     ecs.Query
}

func (s *Movement) Setup(r *ecs.Resolver) error {
	var err error
	if s.positions, err = ecs.ResolveWrite[Position](r, PositionName); err != nil {
		return err
	}
	if s.velocities, err = ecs.ResolveRead[Velocity](r, VelocityName); err != nil {
		return err
	}
	s.moving, err = r.Query().All(PositionName, VelocityName).Build()
	return err
}

func (s *Movement) Run(ctx *ecs.Context) {
	scale := 1.0
	if s.PerSecond {
		scale = ctx.Delta().Seconds()
	}
	for e := range s.moving.Iter(ctx) {
		p, ok := s.positions.GetMut(e)
		if !ok {
			continue
		}
		v, _ := s.velocities.Get(e)
		*p = Position(Vec2(*p).Add(Vec2(v).Scale(scale)))
	}
}

// Bounds wraps positions into [0, Width) x [0, Height). Only entities that
// left the area are marked changed.
type Bounds struct {
	Width, Height float64

	positions ecs.WriteView[Position]
	placed    ecs.Query
}

func (s *Bounds) Setup(r *ecs.Resolver) error {
	var err error
	if s.positions, err = ecs.ResolveWrite[Position](r, PositionName); err != nil {
		return err
	}
	s.placed, err = r.Query().All(PositionName).Build()
	return err
}

func (s *Bounds) Run(ctx *ecs.Context) {
	for e := range s.placed.Iter(ctx) {
		p, ok := s.positions.Get(e)
		if !ok || (p.X >= 0 && p.X < s.Width && p.Y >= 0 && p.Y < s.Height) {
			continue
		}
		mut, _ := s.positions.GetMut(e)
		mut.X = wrap(p.X, s.Width)
		mut.Y = wrap(p.Y, s.Height)
	}
}

// Energy sums the squared speed of every moving entity. It only reads, so
// it runs as a parallel system.
type Energy struct {
	velocities ecs.ReadView[Velocity]
	bits       atomic.Uint64
}

func (s *Energy) Setup(r *ecs.Resolver) error {
	var err error
	s.velocities, err = ecs.ResolveRead[Velocity](r, VelocityName)
	return err
}

func (s *Energy) RunParallel(*ecs.ParallelContext) {
	total := 0.0
	for _, v := range s.velocities.Iter() {
		total += v.X*v.X + v.Y*v.Y
	}
	s.bits.Store(math.Float64bits(total))
}

// Total is the value computed by the last run.
func (s *Energy) Total() float64 {
	return math.Float64frombits(s.bits.Load())
}
