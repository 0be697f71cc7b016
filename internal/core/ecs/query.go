package ecs

import (
	"encoding/binary"
	"iter"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Query is a handle into the query table. Identical filters share a handle.
type Query uint32

const listSeparator = 0xFFFF

type idSpan struct {
	first int
	count int
}

type queryEntry struct {
	all        idSpan
	any        idSpan
	not        idSpan
	archetypes []ArchetypeID
}

type queryTable struct {
	entries []queryEntry
	ids     []ComponentID
	index   map[uint64][]Query
	scratch []byte
}

func newQueryTable() *queryTable {
	return &queryTable{index: make(map[uint64][]Query)}
}

func (t *queryTable) span(s idSpan) []ComponentID {
	return t.ids[s.first : s.first+s.count]
}

func (t *queryTable) push(ids []ComponentID) idSpan {
	s := idSpan{first: len(t.ids), count: len(ids)}
	t.ids = append(t.ids, ids...)
	return s
}

func (t *queryTable) hash(all, anyOf, not []ComponentID) uint64 {
	t.scratch = t.scratch[:0]
	for i, list := range [...][]ComponentID{all, anyOf, not} {
		if i > 0 {
			t.scratch = binary.LittleEndian.AppendUint16(t.scratch, listSeparator)
		}
		for _, id := range list {
			t.scratch = binary.LittleEndian.AppendUint16(t.scratch, uint16(id))
		}
	}
	return xxhash.Sum64(t.scratch)
}

// add returns the query for the filter, reusing an identical one. New entries
// are backfilled from every archetype in archetypes.
func (t *queryTable) add(all, anyOf, not []ComponentID, archetypes *archetypeTable) Query {
	all, anyOf, not = normalize(all), normalize(anyOf), normalize(not)

	h := t.hash(all, anyOf, not)
	for _, q := range t.index[h] {
		entry := &t.entries[q]
		if slices.Equal(t.span(entry.all), all) &&
			slices.Equal(t.span(entry.any), anyOf) &&
			slices.Equal(t.span(entry.not), not) {
			return q
		}
	}

	q := Query(len(t.entries))
	t.entries = append(t.entries, queryEntry{
		all: t.push(all),
		any: t.push(anyOf),
		not: t.push(not),
	})
	t.index[h] = append(t.index[h], q)

	for a := range archetypes.len() {
		id := ArchetypeID(a)
		if t.matches(q, archetypes.signature(id)) {
			t.entries[q].archetypes = append(t.entries[q].archetypes, id)
		}
	}
	return q
}

func normalize(ids []ComponentID) []ComponentID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// matches reports all ⊆ s, any ∩ s ≠ ∅ when any is set, and not ∩ s = ∅.
func (t *queryTable) matches(q Query, signature []ComponentID) bool {
	entry := t.entries[q]
	for _, c := range t.span(entry.all) {
		if !containsID(signature, c) {
			return false
		}
	}
	if entry.any.count > 0 {
		found := false
		for _, c := range t.span(entry.any) {
			if containsID(signature, c) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, c := range t.span(entry.not) {
		if containsID(signature, c) {
			return false
		}
	}
	return true
}

func containsID(sorted []ComponentID, c ComponentID) bool {
	_, found := slices.BinarySearch(sorted, c)
	return found
}

// onArchetypeCreated registers a new archetype against every live query.
func (t *queryTable) onArchetypeCreated(a ArchetypeID, signature []ComponentID) {
	for q := range t.entries {
		if t.matches(Query(q), signature) {
			t.entries[q].archetypes = append(t.entries[q].archetypes, a)
		}
	}
}

func (t *queryTable) valid(q Query) bool {
	return int(q) < len(t.entries)
}

func (t *queryTable) archetypes(q Query) []ArchetypeID {
	return t.entries[q].archetypes
}

// clearMatches drops every match list but keeps the filters.
func (t *queryTable) clearMatches() {
	for i := range t.entries {
		t.entries[i].archetypes = t.entries[i].archetypes[:0]
	}
}

func (t *queryTable) len() int {
	return len(t.entries)
}

// queryEntities walks the pools of every archetype matched by q. Archetypes
// matched while iterating are visited as well.
func (r *registry) queryEntities(q Query) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		if !r.queries.valid(q) {
			return
		}
		for i := 0; i < len(r.queries.entries[q].archetypes); i++ {
			a := r.queries.entries[q].archetypes[i]
			pool := r.archetypes.entries[a].pool
			for _, e := range pool {
				if !yield(e) {
					return
				}
			}
		}
	}
}
