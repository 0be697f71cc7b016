package ecs

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/nucleus/internal/core/observability/log"
)

// Context is passed to System.Run. Entity creation and destruction are
// buffered and applied when the system's flush runs.
type Context struct {
	m      *Manager
	system string
	// Footprint, ignored when unrestricted (Exec)
	reads        []ComponentID
	writes       []ComponentID
	unrestricted bool
}

func (c *Context) scope() *registry { return c.m.reg }

// Create allocates an entity. It joins the empty archetype at the next flush.
// It returns Null when the key space is exhausted; the refusal is counted in
// FrameStats.RefusedCreates.
func (c *Context) Create() Entity {
	e := c.m.reg.entities.create()
	if e.IsNull() {
		if c.m.stats.RefusedCreates == 0 {
			c.Logger().Error("entity key space exhausted", log.Int("entities", c.m.reg.entities.live))
		}
		c.m.stats.RefusedCreates++
		return Null
	}
	c.m.created = append(c.m.created, e)
	return e
}

// Destroy queues e for removal at the next flush.
func (c *Context) Destroy(e Entity) {
	if c.m.reg.entities.alive(e) {
		c.m.destroyed = append(c.m.destroyed, e)
	}
}

func (c *Context) Alive(e Entity) bool { return c.m.reg.entities.alive(e) }

// Invoke queues stage for execution.
func (c *Context) Invoke(stage string, invocation Invocation) error {
	return c.m.Invoke(stage, invocation)
}

func (c *Context) Frame() uint64        { return c.m.frame }
func (c *Context) Delta() time.Duration { return c.m.delta }
func (c *Context) System() string       { return c.system }
func (c *Context) Query() *QueryBuilder { return &QueryBuilder{reg: c.m.reg} }

// Logger returns the manager logger tagged with the frame and system.
func (c *Context) Logger() log.Log {
	return c.m.logger.WithContext(logScope(c.m.frame, c.system))
}

func logScope(frame uint64, system string) context.Context {
	return log.ContextWithSystem(log.ContextWithFrame(context.Background(), frame), system)
}

func (c *Context) canRead(id ComponentID) bool {
	return c.unrestricted || slices.Contains(c.reads, id) || slices.Contains(c.writes, id)
}

func (c *Context) canWrite(id ComponentID) bool {
	return c.unrestricted || slices.Contains(c.writes, id)
}

func borrowError(c *Context, action string, id ComponentID) error {
	return fmt.Errorf("%w: %s does not %s %s", ErrBorrowConflict, c.system, action, c.m.reg.components[id].Name)
}

// ReadOf returns a read view for a registered component. Outside Exec the
// component must be in the system footprint.
func ReadOf[T any](c *Context, h ComponentHandle[T]) (ReadView[T], error) {
	if !c.canRead(h.id) {
		return ReadView[T]{}, borrowError(c, "read", h.id)
	}
	container, err := single[T](c.m.reg, h.id)
	return ReadView[T]{c: container}, err
}

// WriteOf returns a write view for a registered component. Outside Exec the
// component must be declared written.
func WriteOf[T any](c *Context, h ComponentHandle[T]) (WriteView[T], error) {
	if !c.canWrite(h.id) {
		return WriteView[T]{}, borrowError(c, "write", h.id)
	}
	container, err := single[T](c.m.reg, h.id)
	return WriteView[T]{c: container}, err
}

func ArrayReadOf[T any](c *Context, h ArrayHandle[T]) (ArrayReadView[T], error) {
	if !c.canRead(h.id) {
		return ArrayReadView[T]{}, borrowError(c, "read", h.id)
	}
	container, err := array[T](c.m.reg, h.id)
	return ArrayReadView[T]{c: container}, err
}

func ArrayWriteOf[T any](c *Context, h ArrayHandle[T]) (ArrayWriteView[T], error) {
	if !c.canWrite(h.id) {
		return ArrayWriteView[T]{}, borrowError(c, "write", h.id)
	}
	container, err := array[T](c.m.reg, h.id)
	return ArrayWriteView[T]{c: container}, err
}

// ParallelContext is passed to ParallelSystem.RunParallel. It only reads
// queries and containers resolved at setup.
type ParallelContext struct {
	reg    *registry
	system string
	frame  uint64
	delta  time.Duration
	logger log.Log
}

func (c *ParallelContext) scope() *registry { return c.reg }

func (c *ParallelContext) Alive(e Entity) bool  { return c.reg.entities.alive(e) }
func (c *ParallelContext) Frame() uint64        { return c.frame }
func (c *ParallelContext) Delta() time.Duration { return c.delta }
func (c *ParallelContext) System() string       { return c.system }

func (c *ParallelContext) Logger() log.Log {
	return c.logger.WithContext(logScope(c.frame, c.system))
}
