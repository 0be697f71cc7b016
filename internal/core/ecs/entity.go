package ecs

import "fmt"

// Entity packs a 24-bit key and an 8-bit version. The zero value is Null.
type Entity uint32

const (
	entityKeyBits    = 24
	entityKeyMask    = 1<<entityKeyBits - 1
	maxEntityKey     = entityKeyMask
	maxEntityVersion = 0xFF
)

// Null is never allocated.
const Null Entity = 0

func newEntity(key uint32, version uint8) Entity {
	return Entity(uint32(version)<<entityKeyBits | key&entityKeyMask)
}

// Key is the recyclable index part.
func (e Entity) Key() uint32 {
	return uint32(e) & entityKeyMask
}

// Version is incremented each time the key is recycled.
func (e Entity) Version() uint8 {
	return uint8(uint32(e) >> entityKeyBits)
}

func (e Entity) IsNull() bool {
	return e == Null
}

func (e Entity) String() string {
	if e.IsNull() {
		return "Entity(null)"
	}
	return fmt.Sprintf("Entity(%d:%d)", e.Key(), e.Version())
}

type entityInfo struct {
	archetype ArchetypeID
	pool      int
	version   uint8
	alive     bool
	placed    bool
}

type entityTable struct {
	entries []entityInfo
	free    []uint32
	nextKey uint32
	live    int
}

func newEntityTable(capacity int) *entityTable {
	return &entityTable{
		entries: make([]entityInfo, 1, capacity+1),
		nextKey: 1,
	}
}

// create hands out a recycled key when one is free, else the next key.
// Recycled keys already carry their bumped version. It returns Null once
// every key is live or retired.
func (t *entityTable) create() Entity {
	var key uint32
	if n := len(t.free); n > 0 {
		key = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if t.nextKey > maxEntityKey {
			return Null
		}
		key = t.nextKey
		t.nextKey++
		t.entries = append(t.entries, entityInfo{})
	}
	info := &t.entries[key]
	info.alive = true
	info.placed = false
	t.live++
	return newEntity(key, info.version)
}

func (t *entityTable) info(e Entity) (*entityInfo, bool) {
	key := e.Key()
	if key == 0 || int(key) >= len(t.entries) {
		return nil, false
	}
	info := &t.entries[key]
	if !info.alive || info.version != e.Version() {
		return nil, false
	}
	return info, true
}

func (t *entityTable) alive(e Entity) bool {
	_, ok := t.info(e)
	return ok
}

// release frees the key of e. Keys whose version would wrap are retired.
func (t *entityTable) release(e Entity) {
	info, ok := t.info(e)
	if !ok {
		return
	}
	info.alive = false
	info.placed = false
	t.live--
	if info.version == maxEntityVersion {
		return
	}
	info.version++
	t.free = append(t.free, e.Key())
}

func (t *entityTable) reset() {
	t.entries = t.entries[:1]
	t.free = t.free[:0]
	t.nextKey = 1
	t.live = 0
}
