package ecs

import (
	"iter"
	"reflect"
)

func reflectName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// ReadView reads one component container. Entries added since the last
// flush are not visible.
type ReadView[T any] struct {
	c *Container[T]
}

func (v ReadView[T]) Get(e Entity) (T, bool) {
	if p, ok := v.c.get(e); ok {
		return *p, true
	}
	var zero T
	return zero, false
}

func (v ReadView[T]) Has(e Entity) bool {
	_, ok := v.c.visible(e)
	return ok
}

func (v ReadView[T]) Iter() iter.Seq2[Entity, T] { return v.c.iter() }
func (v ReadView[T]) Len() int                   { return v.c.len() }

// Status returns the entry status and the cycle it last changed in.
func (v ReadView[T]) Status(e Entity) (Status, uint64, bool) { return v.c.status(e) }

// Changed lists entities first mutated this cycle.
func (v ReadView[T]) Changed() []Entity { return v.c.changed }

// WriteView reads and mutates one component container.
type WriteView[T any] struct {
	c *Container[T]
}

func (v WriteView[T]) Get(e Entity) (T, bool) {
	return ReadView[T](v).Get(e)
}

// GetMut returns a pointer to the component of e and marks it changed.
func (v WriteView[T]) GetMut(e Entity) (*T, bool) { return v.c.getMut(e) }

// Add attaches value to e. It becomes visible after the next flush. Adding
// to an entity that already has the component overwrites it.
func (v WriteView[T]) Add(e Entity, value T) bool { return v.c.add(e, value) }

// Remove detaches the component from e at the next flush.
func (v WriteView[T]) Remove(e Entity) bool { return v.c.remove(e) }

func (v WriteView[T]) Has(e Entity) bool {
	_, ok := v.c.visible(e)
	return ok
}

func (v WriteView[T]) Iter() iter.Seq2[Entity, T] { return v.c.iter() }

// IterMut yields pointers and marks every yielded entry changed.
func (v WriteView[T]) IterMut() iter.Seq2[Entity, *T]         { return v.c.iterMut() }
func (v WriteView[T]) Len() int                               { return v.c.len() }
func (v WriteView[T]) Status(e Entity) (Status, uint64, bool) { return v.c.status(e) }
func (v WriteView[T]) Changed() []Entity                      { return v.c.changed }
func (v WriteView[T]) ReadOnly() ReadView[T]                  { return ReadView[T](v) }

// ArrayReadView reads a fixed-size array container. Returned slices alias
// the storage and must not be modified.
type ArrayReadView[T any] struct {
	c *ArrayContainer[T]
}

func (v ArrayReadView[T]) Get(e Entity) ([]T, bool) { return v.c.get(e) }

func (v ArrayReadView[T]) Has(e Entity) bool {
	_, ok := v.c.visible(e)
	return ok
}

func (v ArrayReadView[T]) Iter() iter.Seq2[Entity, []T]           { return v.c.iter() }
func (v ArrayReadView[T]) Len() int                               { return v.c.len() }
func (v ArrayReadView[T]) Size() int                              { return v.c.size }
func (v ArrayReadView[T]) Status(e Entity) (Status, uint64, bool) { return v.c.status(e) }
func (v ArrayReadView[T]) Changed() []Entity                      { return v.c.changed }

type ArrayWriteView[T any] struct {
	c *ArrayContainer[T]
}

func (v ArrayWriteView[T]) Get(e Entity) ([]T, bool)    { return v.c.get(e) }
func (v ArrayWriteView[T]) GetMut(e Entity) ([]T, bool) { return v.c.getMut(e) }

// Add copies up to Size elements of values for e, zeroing the rest.
func (v ArrayWriteView[T]) Add(e Entity, values []T) bool { return v.c.add(e, values) }
func (v ArrayWriteView[T]) Remove(e Entity) bool          { return v.c.remove(e) }

func (v ArrayWriteView[T]) Has(e Entity) bool {
	_, ok := v.c.visible(e)
	return ok
}

func (v ArrayWriteView[T]) Iter() iter.Seq2[Entity, []T]           { return v.c.iter() }
func (v ArrayWriteView[T]) IterMut() iter.Seq2[Entity, []T]        { return v.c.iterMut() }
func (v ArrayWriteView[T]) Len() int                               { return v.c.len() }
func (v ArrayWriteView[T]) Size() int                              { return v.c.size }
func (v ArrayWriteView[T]) Status(e Entity) (Status, uint64, bool) { return v.c.status(e) }
func (v ArrayWriteView[T]) Changed() []Entity                      { return v.c.changed }
