package physics

import (
	"math"

	"github.com/zeusync/nucleus/internal/core/ecs"
)

// Component names registered by RegisterComponents.
const (
	PositionName = "position"
	VelocityName = "velocity"
)

// Vec2 is a plain 2D vector.
type Vec2 struct{ X, Y float64 }

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Scale(f float64) Vec2 { return Vec2{X: v.X * f, Y: v.Y * f} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }

type Position Vec2

type Velocity Vec2

// Components holds the handles of the physics components.
type Components struct {
	Position ecs.ComponentHandle[Position]
	Velocity ecs.ComponentHandle[Velocity]
}

func RegisterComponents(m *ecs.Manager) (Components, error) {
	var (
		c   Components
		err error
	)
	if c.Position, err = ecs.RegisterComponent[Position](m, PositionName); err != nil {
		return Components{}, err
	}
	if c.Velocity, err = ecs.RegisterComponent[Velocity](m, VelocityName); err != nil {
		return Components{}, err
	}
	return c, nil
}

// wrap folds v into [0, size).
func wrap(v, size float64) float64 {
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	if v >= size {
		return 0
	}
	return v
}
