package ecs

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"iter"
	"reflect"
)

// ComponentID is the dense index assigned at registration.
type ComponentID uint16

// maxComponents keeps 0xFFFF free as a list separator in query hashes.
const maxComponents = 0xFFFE

type StorageKind uint8

const (
	StorageSingle StorageKind = iota
	StorageArray
)

func (k StorageKind) String() string {
	switch k {
	case StorageSingle:
		return "single"
	case StorageArray:
		return "array"
	default:
		return fmt.Sprintf("storage(%d)", uint8(k))
	}
}

// Status tracks what happened to an entry since the last cycle reset.
type Status uint8

const (
	StatusAdded Status = iota
	StatusChanged
	StatusUnchanged
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusAdded:
		return "added"
	case StatusChanged:
		return "changed"
	case StatusUnchanged:
		return "unchanged"
	case StatusRemoved:
		return "removed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

type entryFlags struct {
	status Status
	cycle  uint64
}

// mover applies archetype transitions found while flushing a container.
type mover interface {
	moveAdded(e Entity, c ComponentID)
	moveRemoved(e Entity, c ComponentID)
}

// storage is the type-erased side of a container used by the manager.
type storage interface {
	core() *containerCore
	flushAddedRemoved(m mover)
	removeEntity(e Entity)
	encode() ([]byte, []Entity, error)
	// decode checks a snapshot payload without touching the container. The
	// returned commit replaces the contents.
	decode(data []byte, entities []Entity) (commit func(), err error)
	reset()
	valueType() reflect.Type
}

// containerCore holds the bookkeeping shared by every storage kind. Entries
// at slots >= viewSize are pending and invisible to readers.
type containerCore struct {
	id       ComponentID
	table    *entityTable
	entities []Entity
	flags    []entryFlags
	sparse   sparseIndex
	viewSize int
	removed  []Entity
	changed  []Entity
	cycle    uint64
}

func (c *containerCore) core() *containerCore { return c }

// slotOf finds the slot owned by exactly e, whatever its status.
func (c *containerCore) slotOf(e Entity) (int, bool) {
	slot, ok := c.sparse.get(e.Key())
	if !ok || c.entities[slot] != e {
		return 0, false
	}
	return slot, true
}

// visible finds the slot of e when readers may observe it.
func (c *containerCore) visible(e Entity) (int, bool) {
	slot, ok := c.slotOf(e)
	if !ok || slot >= c.viewSize || c.flags[slot].status == StatusRemoved {
		return 0, false
	}
	return slot, true
}

func (c *containerCore) markChanged(slot int) {
	f := &c.flags[slot]
	if f.status == StatusUnchanged {
		f.status = StatusChanged
		c.changed = append(c.changed, c.entities[slot])
	}
	f.cycle = c.cycle
}

// upsert returns the slot for e. fresh reports an appended entry whose data
// the caller must append as well.
func (c *containerCore) upsert(e Entity) (slot int, fresh bool) {
	if slot, ok := c.slotOf(e); ok {
		f := &c.flags[slot]
		if f.status == StatusRemoved {
			// Cancels the queued removal, flush skips it
			f.status = StatusChanged
			f.cycle = c.cycle
			c.changed = append(c.changed, e)
		} else {
			c.markChanged(slot)
		}
		return slot, false
	}
	slot = len(c.entities)
	c.entities = append(c.entities, e)
	c.flags = append(c.flags, entryFlags{status: StatusAdded, cycle: c.cycle})
	c.sparse.set(e.Key(), slot)
	return slot, true
}

// logicalRemove marks e removed. Pending entries never became visible and
// are dropped physically right away.
func (c *containerCore) logicalRemove(e Entity, removeSlot func(int)) bool {
	slot, ok := c.slotOf(e)
	if !ok {
		return false
	}
	if slot >= c.viewSize {
		removeSlot(slot)
		return true
	}
	f := &c.flags[slot]
	if f.status == StatusRemoved {
		return false
	}
	f.status = StatusRemoved
	f.cycle = c.cycle
	c.removed = append(c.removed, e)
	return true
}

// swapEntry moves the last entry into slot and returns the index the caller
// must move data from before truncating.
func (c *containerCore) swapEntry(slot int) int {
	last := len(c.entities) - 1
	c.sparse.delete(c.entities[slot].Key())
	if slot != last {
		moved := c.entities[last]
		c.entities[slot] = moved
		c.flags[slot] = c.flags[last]
		c.sparse.set(moved.Key(), slot)
	}
	c.entities = c.entities[:last]
	c.flags = c.flags[:last]
	if c.viewSize > last {
		c.viewSize = last
	}
	return last
}

func (c *containerCore) flush(m mover, removeSlot func(int)) {
	for slot := c.viewSize; slot < len(c.entities); slot++ {
		m.moveAdded(c.entities[slot], c.id)
	}
	for _, e := range c.removed {
		slot, ok := c.slotOf(e)
		if !ok || c.flags[slot].status != StatusRemoved {
			continue
		}
		m.moveRemoved(e, c.id)
		removeSlot(slot)
	}
	c.removed = c.removed[:0]
}

func (c *containerCore) updateViewSize() {
	c.viewSize = len(c.entities)
}

// endCycle resets every touched status and starts cycle next.
func (c *containerCore) endCycle(next uint64) {
	for i := range c.flags[:c.viewSize] {
		if s := c.flags[i].status; s == StatusAdded || s == StatusChanged {
			c.flags[i].status = StatusUnchanged
		}
	}
	c.changed = c.changed[:0]
	c.cycle = next
}

func (c *containerCore) status(e Entity) (Status, uint64, bool) {
	slot, ok := c.slotOf(e)
	if !ok || slot >= c.viewSize {
		return 0, 0, false
	}
	return c.flags[slot].status, c.flags[slot].cycle, true
}

func (c *containerCore) len() int {
	n := 0
	for _, f := range c.flags[:c.viewSize] {
		if f.status != StatusRemoved {
			n++
		}
	}
	return n
}

// snapshotSlots lists the visible, non-removed slots in order.
func (c *containerCore) snapshotSlots() ([]int, []Entity) {
	slots := make([]int, 0, c.viewSize)
	entities := make([]Entity, 0, c.viewSize)
	for i, f := range c.flags[:c.viewSize] {
		if f.status != StatusRemoved {
			slots = append(slots, i)
			entities = append(entities, c.entities[i])
		}
	}
	return slots, entities
}

func (c *containerCore) resetCore() {
	c.entities = c.entities[:0]
	c.flags = c.flags[:0]
	c.sparse.reset()
	c.viewSize = 0
	c.removed = c.removed[:0]
	c.changed = c.changed[:0]
}

// restore appends entities as visible, unchanged entries.
func (c *containerCore) restore(entities []Entity) {
	for _, e := range entities {
		c.sparse.set(e.Key(), len(c.entities))
		c.entities = append(c.entities, e)
		c.flags = append(c.flags, entryFlags{status: StatusUnchanged, cycle: c.cycle})
	}
	c.viewSize = len(c.entities)
}

func encodeGob(v any, zeroSized bool) ([]byte, error) {
	if zeroSized {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Container stores one T per entity.
type Container[T any] struct {
	containerCore
	data []T
}

var _ storage = (*Container[struct{}])(nil)

func newContainer[T any](id ComponentID, table *entityTable) *Container[T] {
	return &Container[T]{containerCore: containerCore{id: id, table: table}}
}

func (c *Container[T]) get(e Entity) (*T, bool) {
	slot, ok := c.visible(e)
	if !ok {
		return nil, false
	}
	return &c.data[slot], true
}

func (c *Container[T]) getMut(e Entity) (*T, bool) {
	slot, ok := c.visible(e)
	if !ok {
		return nil, false
	}
	c.markChanged(slot)
	return &c.data[slot], true
}

func (c *Container[T]) add(e Entity, value T) bool {
	if !c.table.alive(e) {
		return false
	}
	slot, fresh := c.upsert(e)
	if fresh {
		c.data = append(c.data, value)
	} else {
		c.data[slot] = value
	}
	return true
}

func (c *Container[T]) remove(e Entity) bool {
	return c.logicalRemove(e, c.removeSlot)
}

func (c *Container[T]) removeSlot(slot int) {
	last := c.swapEntry(slot)
	c.data[slot] = c.data[last]
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
}

func (c *Container[T]) iter() iter.Seq2[Entity, T] {
	return func(yield func(Entity, T) bool) {
		n := c.viewSize
		for i := 0; i < n; i++ {
			if c.flags[i].status == StatusRemoved {
				continue
			}
			if !yield(c.entities[i], c.data[i]) {
				return
			}
		}
	}
}

func (c *Container[T]) iterMut() iter.Seq2[Entity, *T] {
	return func(yield func(Entity, *T) bool) {
		n := c.viewSize
		for i := 0; i < n; i++ {
			if c.flags[i].status == StatusRemoved {
				continue
			}
			c.markChanged(i)
			if !yield(c.entities[i], &c.data[i]) {
				return
			}
		}
	}
}

func (c *Container[T]) flushAddedRemoved(m mover) {
	c.flush(m, c.removeSlot)
}

func (c *Container[T]) removeEntity(e Entity) {
	if slot, ok := c.slotOf(e); ok {
		c.removeSlot(slot)
	}
}

func (c *Container[T]) encode() ([]byte, []Entity, error) {
	slots, entities := c.snapshotSlots()
	values := make([]T, len(slots))
	for i, slot := range slots {
		values[i] = c.data[slot]
	}
	data, err := encodeGob(values, c.valueType().Size() == 0)
	return data, entities, err
}

func (c *Container[T]) decode(data []byte, entities []Entity) (func(), error) {
	values := make([]T, len(entities))
	if c.valueType().Size() != 0 && len(entities) > 0 {
		if err := decodeGob(data, &values); err != nil {
			return nil, err
		}
		if len(values) != len(entities) {
			return nil, fmt.Errorf("%w: %d values for %d entities", ErrInvalidSnapshot, len(values), len(entities))
		}
	}
	return func() {
		c.reset()
		c.restore(entities)
		c.data = append(c.data, values...)
	}, nil
}

func (c *Container[T]) reset() {
	c.resetCore()
	clear(c.data)
	c.data = c.data[:0]
}

func (c *Container[T]) valueType() reflect.Type {
	return reflect.TypeFor[T]()
}

// ArrayContainer stores a fixed-size array of T per entity.
type ArrayContainer[T any] struct {
	containerCore
	size int
	data []T
}

var _ storage = (*ArrayContainer[struct{}])(nil)

func newArrayContainer[T any](id ComponentID, table *entityTable, size int) *ArrayContainer[T] {
	return &ArrayContainer[T]{containerCore: containerCore{id: id, table: table}, size: size}
}

func (c *ArrayContainer[T]) at(slot int) []T {
	start := slot * c.size
	return c.data[start : start+c.size : start+c.size]
}

func (c *ArrayContainer[T]) get(e Entity) ([]T, bool) {
	slot, ok := c.visible(e)
	if !ok {
		return nil, false
	}
	return c.at(slot), true
}

func (c *ArrayContainer[T]) getMut(e Entity) ([]T, bool) {
	slot, ok := c.visible(e)
	if !ok {
		return nil, false
	}
	c.markChanged(slot)
	return c.at(slot), true
}

// add copies up to size elements of values, zeroing the rest.
func (c *ArrayContainer[T]) add(e Entity, values []T) bool {
	if !c.table.alive(e) {
		return false
	}
	slot, fresh := c.upsert(e)
	if fresh {
		c.data = append(c.data, make([]T, c.size)...)
	}
	dst := c.at(slot)
	clear(dst)
	copy(dst, values)
	return true
}

func (c *ArrayContainer[T]) remove(e Entity) bool {
	return c.logicalRemove(e, c.removeSlot)
}

func (c *ArrayContainer[T]) removeSlot(slot int) {
	last := c.swapEntry(slot)
	if slot != last {
		copy(c.at(slot), c.at(last))
	}
	clear(c.at(last))
	c.data = c.data[:last*c.size]
}

func (c *ArrayContainer[T]) iter() iter.Seq2[Entity, []T] {
	return func(yield func(Entity, []T) bool) {
		n := c.viewSize
		for i := 0; i < n; i++ {
			if c.flags[i].status == StatusRemoved {
				continue
			}
			if !yield(c.entities[i], c.at(i)) {
				return
			}
		}
	}
}

func (c *ArrayContainer[T]) iterMut() iter.Seq2[Entity, []T] {
	return func(yield func(Entity, []T) bool) {
		n := c.viewSize
		for i := 0; i < n; i++ {
			if c.flags[i].status == StatusRemoved {
				continue
			}
			c.markChanged(i)
			if !yield(c.entities[i], c.at(i)) {
				return
			}
		}
	}
}

func (c *ArrayContainer[T]) flushAddedRemoved(m mover) {
	c.flush(m, c.removeSlot)
}

func (c *ArrayContainer[T]) removeEntity(e Entity) {
	if slot, ok := c.slotOf(e); ok {
		c.removeSlot(slot)
	}
}

func (c *ArrayContainer[T]) encode() ([]byte, []Entity, error) {
	slots, entities := c.snapshotSlots()
	values := make([]T, 0, len(slots)*c.size)
	for _, slot := range slots {
		values = append(values, c.at(slot)...)
	}
	data, err := encodeGob(values, c.valueType().Size() == 0)
	return data, entities, err
}

func (c *ArrayContainer[T]) decode(data []byte, entities []Entity) (func(), error) {
	values := make([]T, len(entities)*c.size)
	if c.valueType().Size() != 0 && len(values) > 0 {
		if err := decodeGob(data, &values); err != nil {
			return nil, err
		}
		if len(values) != len(entities)*c.size {
			return nil, fmt.Errorf("%w: %d values for %d entities of size %d", ErrInvalidSnapshot, len(values), len(entities), c.size)
		}
	}
	return func() {
		c.reset()
		c.restore(entities)
		c.data = append(c.data, values...)
	}, nil
}

func (c *ArrayContainer[T]) reset() {
	c.resetCore()
	clear(c.data)
	c.data = c.data[:0]
}

func (c *ArrayContainer[T]) valueType() reflect.Type {
	return reflect.TypeFor[T]()
}
