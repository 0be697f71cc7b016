package ecs

import (
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// ComponentInfo describes a registered component.
type ComponentInfo struct {
	ID      ComponentID
	Name    string
	UID     uint64
	Storage StorageKind
	Size    int
	Type    reflect.Type
}

// ComponentUID derives the stable identity stored in snapshots.
func ComponentUID(name string) uint64 {
	return xxhash.Sum64String(name)
}

// structuralHook observes flush transitions. Nil when nobody listens.
type structuralHook interface {
	componentAdded(e Entity, c ComponentID)
	componentRemoved(e Entity, c ComponentID)
	entityCreated(e Entity)
	entityDestroyed(e Entity)
}

// registry owns every table mutated by flushes.
type registry struct {
	entities   *entityTable
	archetypes *archetypeTable
	queries    *queryTable
	components []ComponentInfo
	containers []storage
	byName     map[string]ComponentID
	byUID      map[uint64]ComponentID

	hook structuralHook
}

var _ mover = (*registry)(nil)

func newRegistry(capacity int) *registry {
	return &registry{
		entities:   newEntityTable(capacity),
		archetypes: newArchetypeTable(),
		queries:    newQueryTable(),
		byName:     make(map[string]ComponentID),
		byUID:      make(map[uint64]ComponentID),
	}
}

func (r *registry) onArchetypeCreated(a ArchetypeID) {
	r.queries.onArchetypeCreated(a, r.archetypes.signature(a))
}

func (r *registry) component(name string) (ComponentID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// place puts a created entity into the empty archetype.
func (r *registry) place(e Entity) bool {
	info, ok := r.entities.info(e)
	if !ok || info.placed {
		return false
	}
	info.archetype = EmptyArchetype
	info.pool = r.archetypes.push(EmptyArchetype, e)
	info.placed = true
	if r.hook != nil {
		r.hook.entityCreated(e)
	}
	return true
}

// relocate moves e from its archetype pool to target.
func (r *registry) relocate(e Entity, info *entityInfo, target ArchetypeID) {
	if target == info.archetype {
		return
	}
	if moved := r.archetypes.swapRemove(info.archetype, info.pool); moved != Null {
		r.entities.entries[moved.Key()].pool = info.pool
	}
	info.archetype = target
	info.pool = r.archetypes.push(target, e)
}

func (r *registry) moveAdded(e Entity, c ComponentID) {
	info, ok := r.entities.info(e)
	if !ok || !info.placed {
		return
	}
	before := info.archetype
	r.relocate(e, info, r.archetypes.findAdd(info.archetype, c, r.onArchetypeCreated))
	if r.hook != nil && before != info.archetype {
		r.hook.componentAdded(e, c)
	}
}

func (r *registry) moveRemoved(e Entity, c ComponentID) {
	info, ok := r.entities.info(e)
	if !ok || !info.placed {
		return
	}
	before := info.archetype
	r.relocate(e, info, r.archetypes.findRemove(info.archetype, c, r.onArchetypeCreated))
	if r.hook != nil && before != info.archetype {
		r.hook.componentRemoved(e, c)
	}
}

// destroy removes every component of e, drops it from its pool and frees
// the key.
func (r *registry) destroy(e Entity) bool {
	info, ok := r.entities.info(e)
	if !ok {
		return false
	}
	// Pending entries are not in the signature yet, so every container is visited
	for _, c := range r.containers {
		c.removeEntity(e)
	}
	if info.placed {
		if moved := r.archetypes.swapRemove(info.archetype, info.pool); moved != Null {
			r.entities.entries[moved.Key()].pool = info.pool
		}
	}
	r.entities.release(e)
	if r.hook != nil {
		r.hook.entityDestroyed(e)
	}
	return true
}

func (r *registry) archetypeOf(e Entity) (ArchetypeID, bool) {
	info, ok := r.entities.info(e)
	if !ok || !info.placed {
		return noArchetype, false
	}
	return info.archetype, true
}
