package ecs

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// ArchetypeID identifies one distinct component set.
type ArchetypeID uint32

// EmptyArchetype holds entities without components. It always exists.
const EmptyArchetype ArchetypeID = 0

const (
	noArchetype ArchetypeID = ^ArchetypeID(0)
	noEdge                  = -1
)

// edge caches the transition reached by adding or removing component.
type edge struct {
	component ComponentID
	add       ArchetypeID
	remove    ArchetypeID
	previous  int
}

type archetype struct {
	first    int
	count    int
	lastEdge int
	pool     []Entity
}

type archetypeTable struct {
	entries    []archetype
	components []ComponentID
	edges      []edge
	// signature hash -> archetypes with that hash
	index map[uint64][]ArchetypeID
	// signature size -> archetypes of that size
	bySize [][]ArchetypeID

	scratch []byte
}

func newArchetypeTable() *archetypeTable {
	t := &archetypeTable{}
	t.reset()
	return t
}

func (t *archetypeTable) reset() {
	t.entries = append(t.entries[:0], archetype{lastEdge: noEdge})
	t.components = t.components[:0]
	t.edges = t.edges[:0]
	t.index = map[uint64][]ArchetypeID{t.hash(nil): {EmptyArchetype}}
	t.bySize = [][]ArchetypeID{{EmptyArchetype}}
}

func (t *archetypeTable) len() int {
	return len(t.entries)
}

func (t *archetypeTable) signature(a ArchetypeID) []ComponentID {
	entry := t.entries[a]
	return t.components[entry.first : entry.first+entry.count]
}

func (t *archetypeTable) has(a ArchetypeID, c ComponentID) bool {
	_, found := slices.BinarySearch(t.signature(a), c)
	return found
}

func (t *archetypeTable) hash(ids []ComponentID) uint64 {
	t.scratch = t.scratch[:0]
	for _, id := range ids {
		t.scratch = binary.LittleEndian.AppendUint16(t.scratch, uint16(id))
	}
	return xxhash.Sum64(t.scratch)
}

// lookup finds the archetype with exactly the sorted signature ids.
func (t *archetypeTable) lookup(ids []ComponentID) (ArchetypeID, bool) {
	for _, candidate := range t.index[t.hash(ids)] {
		if slices.Equal(t.signature(candidate), ids) {
			return candidate, true
		}
	}
	return noArchetype, false
}

func (t *archetypeTable) findEdge(a ArchetypeID, c ComponentID) int {
	for e := t.entries[a].lastEdge; e != noEdge; e = t.edges[e].previous {
		if t.edges[e].component == c {
			return e
		}
	}
	return noEdge
}

func (t *archetypeTable) edgeOf(a ArchetypeID, c ComponentID) *edge {
	e := t.findEdge(a, c)
	if e == noEdge {
		t.edges = append(t.edges, edge{
			component: c,
			add:       noArchetype,
			remove:    noArchetype,
			previous:  t.entries[a].lastEdge,
		})
		e = len(t.edges) - 1
		t.entries[a].lastEdge = e
	}
	return &t.edges[e]
}

// link records that adding c to from reaches to, and removing c from to
// reaches from.
func (t *archetypeTable) link(from, to ArchetypeID, c ComponentID) {
	t.edgeOf(from, c).add = to
	t.edgeOf(to, c).remove = from
}

// findAdd returns the archetype reached by adding c to a, creating it when
// the signature was never seen. Created archetypes are reported to created.
func (t *archetypeTable) findAdd(a ArchetypeID, c ComponentID, created func(ArchetypeID)) ArchetypeID {
	if t.has(a, c) {
		return a
	}
	if e := t.findEdge(a, c); e != noEdge && t.edges[e].add != noArchetype {
		return t.edges[e].add
	}

	signature := t.signature(a)
	ids := make([]ComponentID, 0, len(signature)+1)
	ids = append(ids, signature...)
	position, _ := slices.BinarySearch(ids, c)
	ids = slices.Insert(ids, position, c)

	if existing, ok := t.lookup(ids); ok {
		t.link(a, existing, c)
		return existing
	}

	key := t.create(ids)
	if created != nil {
		created(key)
	}
	return key
}

// findRemove returns the archetype reached by removing c from a.
func (t *archetypeTable) findRemove(a ArchetypeID, c ComponentID, created func(ArchetypeID)) ArchetypeID {
	if !t.has(a, c) {
		return a
	}
	if e := t.findEdge(a, c); e != noEdge && t.edges[e].remove != noArchetype {
		return t.edges[e].remove
	}

	// Rebuild the target signature from the empty archetype
	current := EmptyArchetype
	for _, component := range t.signature(a) {
		if component != c {
			current = t.findAdd(current, component, created)
		}
	}
	t.link(current, a, c)
	return current
}

func (t *archetypeTable) find(components []ComponentID, created func(ArchetypeID)) ArchetypeID {
	current := EmptyArchetype
	for _, c := range components {
		current = t.findAdd(current, c, created)
	}
	return current
}

// create allocates an archetype for the sorted signature ids and links it to
// every existing archetype one component away.
func (t *archetypeTable) create(ids []ComponentID) ArchetypeID {
	key := ArchetypeID(len(t.entries))
	t.entries = append(t.entries, archetype{
		first:    len(t.components),
		count:    len(ids),
		lastEdge: noEdge,
	})
	t.components = append(t.components, ids...)

	h := t.hash(ids)
	t.index[h] = append(t.index[h], key)
	for len(t.bySize) <= len(ids) {
		t.bySize = append(t.bySize, nil)
	}
	t.bySize[len(ids)] = append(t.bySize[len(ids)], key)

	// Neighbours with one component less
	minus := make([]ComponentID, 0, len(ids))
	for i, c := range ids {
		minus = append(minus[:0], ids[:i]...)
		minus = append(minus, ids[i+1:]...)
		if neighbour, ok := t.lookup(minus); ok {
			t.link(neighbour, key, c)
		}
	}

	// Neighbours with one component more
	if len(ids)+1 < len(t.bySize) {
		for _, neighbour := range t.bySize[len(ids)+1] {
			if extra, ok := supersetByOne(t.signature(neighbour), ids); ok {
				t.link(key, neighbour, extra)
			}
		}
	}

	return key
}

// supersetByOne reports the single component of super missing from sub when
// sub is super minus exactly one component. Both must be sorted.
func supersetByOne(super, sub []ComponentID) (ComponentID, bool) {
	if len(super) != len(sub)+1 {
		return 0, false
	}
	var extra ComponentID
	missing := 0
	j := 0
	for _, c := range super {
		if j < len(sub) && sub[j] == c {
			j++
			continue
		}
		extra = c
		missing++
		if missing > 1 {
			return 0, false
		}
	}
	return extra, j == len(sub) && missing == 1
}

func (t *archetypeTable) push(a ArchetypeID, e Entity) int {
	entry := &t.entries[a]
	entry.pool = append(entry.pool, e)
	return len(entry.pool) - 1
}

// swapRemove drops pool slot index and returns the entity moved into it, or
// Null when index was the last slot.
func (t *archetypeTable) swapRemove(a ArchetypeID, index int) Entity {
	entry := &t.entries[a]
	last := len(entry.pool) - 1
	moved := Null
	if index != last {
		moved = entry.pool[last]
		entry.pool[index] = moved
	}
	entry.pool = entry.pool[:last]
	return moved
}
