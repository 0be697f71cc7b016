package ecs

import (
	"fmt"
	"iter"
	"slices"
)

// ComponentHandle is the typed token returned by RegisterComponent.
type ComponentHandle[T any] struct {
	id ComponentID
}

func (h ComponentHandle[T]) ID() ComponentID { return h.id }

// ArrayHandle is the typed token returned by RegisterArrayComponent.
type ArrayHandle[T any] struct {
	id   ComponentID
	size int
}

func (h ArrayHandle[T]) ID() ComponentID { return h.id }
func (h ArrayHandle[T]) Size() int       { return h.size }

// Resolver is handed to System.Setup. Views may only be resolved for
// components the system declared in its footprint.
type Resolver struct {
	reg    *registry
	system string
	reads  []ComponentID
	writes []ComponentID
}

// System returns the name of the system being set up.
func (r *Resolver) System() string { return r.system }

// Query starts a query over named components.
func (r *Resolver) Query() *QueryBuilder {
	return &QueryBuilder{reg: r.reg}
}

func (r *Resolver) lookup(name string, write bool) (ComponentID, error) {
	id, ok := r.reg.component(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	if slices.Contains(r.writes, id) {
		return id, nil
	}
	if write {
		return 0, fmt.Errorf("%w: %s is not declared as written", ErrBorrowConflict, name)
	}
	if !slices.Contains(r.reads, id) {
		return 0, fmt.Errorf("%w: %s is not declared as read", ErrBorrowConflict, name)
	}
	return id, nil
}

func single[T any](reg *registry, id ComponentID) (*Container[T], error) {
	c, ok := reg.containers[id].(*Container[T])
	if !ok {
		info := reg.components[id]
		return nil, fmt.Errorf("%w: %s holds %s %s, requested %s",
			ErrComponentTypeMismatch, info.Name, info.Storage, info.Type, reflectName[T]())
	}
	return c, nil
}

func array[T any](reg *registry, id ComponentID) (*ArrayContainer[T], error) {
	c, ok := reg.containers[id].(*ArrayContainer[T])
	if !ok {
		info := reg.components[id]
		return nil, fmt.Errorf("%w: %s holds %s %s, requested array of %s",
			ErrComponentTypeMismatch, info.Name, info.Storage, info.Type, reflectName[T]())
	}
	return c, nil
}

func ResolveRead[T any](r *Resolver, name string) (ReadView[T], error) {
	id, err := r.lookup(name, false)
	if err != nil {
		return ReadView[T]{}, err
	}
	c, err := single[T](r.reg, id)
	return ReadView[T]{c: c}, err
}

func ResolveWrite[T any](r *Resolver, name string) (WriteView[T], error) {
	id, err := r.lookup(name, true)
	if err != nil {
		return WriteView[T]{}, err
	}
	c, err := single[T](r.reg, id)
	return WriteView[T]{c: c}, err
}

func ResolveArrayRead[T any](r *Resolver, name string) (ArrayReadView[T], error) {
	id, err := r.lookup(name, false)
	if err != nil {
		return ArrayReadView[T]{}, err
	}
	c, err := array[T](r.reg, id)
	return ArrayReadView[T]{c: c}, err
}

func ResolveArrayWrite[T any](r *Resolver, name string) (ArrayWriteView[T], error) {
	id, err := r.lookup(name, true)
	if err != nil {
		return ArrayWriteView[T]{}, err
	}
	c, err := array[T](r.reg, id)
	return ArrayWriteView[T]{c: c}, err
}

// QueryBuilder accumulates all/any/not filters. Build compiles them.
type QueryBuilder struct {
	reg   *registry
	all   []ComponentID
	anyOf []ComponentID
	not   []ComponentID
	err   error
}

func (b *QueryBuilder) collect(dst []ComponentID, names []string) []ComponentID {
	for _, name := range names {
		id, ok := b.reg.component(name)
		if !ok {
			if b.err == nil {
				b.err = fmt.Errorf("%w: %s", ErrComponentNotFound, name)
			}
			continue
		}
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

// All requires every named component.
func (b *QueryBuilder) All(names ...string) *QueryBuilder {
	b.all = b.collect(b.all, names)
	return b
}

// Any requires at least one named component.
func (b *QueryBuilder) Any(names ...string) *QueryBuilder {
	b.anyOf = b.collect(b.anyOf, names)
	return b
}

// Not excludes every named component.
func (b *QueryBuilder) Not(names ...string) *QueryBuilder {
	b.not = b.collect(b.not, names)
	return b
}

// Build returns the cached query for the filter, creating it when new.
func (b *QueryBuilder) Build() (Query, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.reg.queries.add(b.all, b.anyOf, b.not, b.reg.archetypes), nil
}

// Scope is anything that can walk queries: a Context, a ParallelContext or
// the Manager itself.
type Scope interface {
	scope() *registry
}

// Iter yields every entity of every archetype matched by q.
func (q Query) Iter(s Scope) iter.Seq[Entity] {
	return s.scope().queryEntities(q)
}

// Archetypes returns how many archetypes q currently matches.
func (q Query) Archetypes(s Scope) int {
	reg := s.scope()
	if !reg.queries.valid(q) {
		return 0
	}
	return len(reg.queries.archetypes(q))
}

// Count returns how many entities q currently matches.
func (q Query) Count(s Scope) int {
	reg := s.scope()
	if !reg.queries.valid(q) {
		return 0
	}
	n := 0
	for _, a := range reg.queries.archetypes(q) {
		n += len(reg.archetypes.entries[a].pool)
	}
	return n
}
