package ecs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeusync/nucleus/internal/core/observability/log"
)

var snapshotMagic = [4]byte{'N', 'C', 'S', '1'}

const maxSnapshotName = 1 << 10

// snapshotWriter keeps the first error so callers check once.
type snapshotWriter struct {
	w   *bufio.Writer
	err error
}

func (s *snapshotWriter) write(v any) {
	if s.err == nil {
		s.err = binary.Write(s.w, binary.LittleEndian, v)
	}
}

func (s *snapshotWriter) bytes(b []byte) {
	s.write(uint32(len(b)))
	if s.err == nil {
		_, s.err = s.w.Write(b)
	}
}

type snapshotReader struct {
	r   *bufio.Reader
	err error
}

func (s *snapshotReader) read(v any) {
	if s.err == nil {
		s.err = binary.Read(s.r, binary.LittleEndian, v)
	}
}

func (s *snapshotReader) bytes(limit uint32) []byte {
	var n uint32
	s.read(&n)
	if s.err != nil {
		return nil
	}
	if n > limit {
		s.err = fmt.Errorf("%w: field of %d bytes exceeds %d", ErrInvalidSnapshot, n, limit)
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(s.r, b); err != nil {
		s.err = err
		return nil
	}
	return b
}

// Save writes the entity table and every component container. Archetypes
// and query matches are derived state and are not written. Call it between
// frames.
func (m *Manager) Save(w io.Writer) error {
	sw := &snapshotWriter{w: bufio.NewWriter(w)}
	sw.write(snapshotMagic)

	// Entity table
	t := m.reg.entities
	sw.write(t.nextKey)
	for key := uint32(1); key < t.nextKey; key++ {
		info := t.entries[key]
		alive := uint8(0)
		if info.alive {
			alive = 1
		}
		sw.write([2]uint8{info.version, alive})
	}
	sw.write(uint32(len(t.free)))
	sw.write(t.free)

	// Containers
	sw.write(uint32(len(m.reg.containers)))
	entities := 0
	for id, c := range m.reg.containers {
		info := m.reg.components[id]
		data, owners, err := c.encode()
		if err != nil {
			return fmt.Errorf("encode component %s: %w", info.Name, err)
		}
		sw.write(info.UID)
		sw.bytes([]byte(info.Name))
		sw.bytes([]byte(info.Type.String()))
		sw.write(uint8(info.Storage))
		sw.write(uint32(info.Size))
		sw.write(uint32(len(owners)))
		sw.bytes(data)
		sw.write(owners)
		entities += len(owners)
	}

	if sw.err == nil {
		sw.err = sw.w.Flush()
	}
	if sw.err != nil {
		return fmt.Errorf("write snapshot: %w", sw.err)
	}
	m.logger.Info("snapshot saved",
		log.Int("entities", t.live),
		log.Int("components", len(m.reg.containers)),
		log.Int("entries", entities),
	)
	return nil
}

type containerRecord struct {
	id       ComponentID
	entities []Entity
	commit   func()
}

// Load replaces the world with a snapshot written by Save. Every component
// in the snapshot must be registered with the same storage and value type.
// The world is left untouched unless the whole snapshot is valid. Archetypes
// are rebuilt and registered queries keep their filters.
func (m *Manager) Load(r io.Reader) error {
	sr := &snapshotReader{r: bufio.NewReader(r)}
	var magic [4]byte
	sr.read(&magic)
	if sr.err != nil {
		return fmt.Errorf("read snapshot: %w", sr.err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidSnapshot, magic[:])
	}

	// Entity table
	var nextKey uint32
	sr.read(&nextKey)
	if sr.err == nil && (nextKey == 0 || nextKey > maxEntityKey+1) {
		return fmt.Errorf("%w: next key %d", ErrInvalidSnapshot, nextKey)
	}
	states := make([][2]uint8, 0)
	if sr.err == nil {
		states = make([][2]uint8, nextKey-1)
		sr.read(states)
	}
	var freeCount uint32
	sr.read(&freeCount)
	if sr.err == nil && freeCount >= nextKey {
		return fmt.Errorf("%w: %d free keys for %d keys", ErrInvalidSnapshot, freeCount, nextKey-1)
	}
	free := make([]uint32, 0)
	if sr.err == nil {
		free = make([]uint32, freeCount)
		sr.read(free)
	}
	if sr.err != nil {
		return fmt.Errorf("read snapshot: %w", sr.err)
	}
	if err := validateFree(nextKey, states, free); err != nil {
		return err
	}

	// Containers
	var count uint32
	sr.read(&count)
	if sr.err != nil {
		return fmt.Errorf("read snapshot: %w", sr.err)
	}
	records := make([]containerRecord, 0, min(count, uint32(len(m.reg.containers))))
	loaded := make(map[uint64]struct{}, len(m.reg.containers))
	var errs error
	for range count {
		var (
			uid     uint64
			kind    uint8
			size    uint32
			entries uint32
		)
		sr.read(&uid)
		name := sr.bytes(maxSnapshotName)
		typeName := sr.bytes(maxSnapshotName)
		sr.read(&kind)
		sr.read(&size)
		sr.read(&entries)
		data := sr.bytes(1 << 31)
		if sr.err != nil {
			return fmt.Errorf("read snapshot: %w", sr.err)
		}
		if entries >= nextKey {
			return fmt.Errorf("%w: %s holds %d entries for %d keys", ErrInvalidSnapshot, name, entries, nextKey-1)
		}
		owners := make([]Entity, entries)
		sr.read(owners)
		if sr.err != nil {
			return fmt.Errorf("read snapshot: %w", sr.err)
		}

		id, ok := m.reg.byUID[uid]
		if !ok {
			return fmt.Errorf("%w: %s (uid %#x)", ErrUnknownComponent, name, uid)
		}
		if _, dup := loaded[uid]; dup {
			return fmt.Errorf("%w: %s stored twice", ErrInvalidSnapshot, name)
		}
		loaded[uid] = struct{}{}
		info := m.reg.components[id]
		if StorageKind(kind) != info.Storage || int(size) != info.Size {
			return fmt.Errorf("%w: %s stored as %s[%d], registered as %s[%d]",
				ErrInvalidSnapshot, info.Name, StorageKind(kind), size, info.Storage, info.Size)
		}
		if string(typeName) != info.Type.String() {
			return fmt.Errorf("%w: %s stored as %s, registered as %s",
				ErrInvalidSnapshot, info.Name, typeName, info.Type)
		}
		if err := validateOwners(info.Name, nextKey, states, owners); err != nil {
			return err
		}

		commit, err := m.reg.containers[id].decode(data, owners)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("decode component %s: %w", info.Name, err))
			continue
		}
		records = append(records, containerRecord{id: id, entities: owners, commit: commit})
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, errs)
	}

	// Every record decoded, the world can be replaced
	m.restoreEntities(nextKey, states, free)
	m.reg.archetypes.reset()
	m.reg.queries.clearMatches()
	m.reg.onArchetypeCreated(EmptyArchetype)
	m.created = m.created[:0]
	m.destroyed = m.destroyed[:0]
	for _, c := range m.reg.containers {
		c.reset()
	}
	for _, record := range records {
		record.commit()
	}

	// Rebuild archetypes from container contents, silently
	hook := m.reg.hook
	m.reg.hook = nil
	for key := uint32(1); key < nextKey; key++ {
		info := &m.reg.entities.entries[key]
		if info.alive {
			m.reg.place(newEntity(key, info.version))
		}
	}
	for _, record := range records {
		for _, e := range record.entities {
			m.reg.moveAdded(e, record.id)
		}
	}
	m.reg.hook = hook

	m.logger.Info("snapshot loaded",
		log.Int("entities", m.reg.entities.live),
		log.Int("components", len(records)),
		log.Int("archetypes", m.reg.archetypes.len()),
	)
	return nil
}

// validateFree rejects free keys that are out of range, alive or repeated.
// Any of them would let create hand out a handle equal to a live one.
func validateFree(nextKey uint32, states [][2]uint8, free []uint32) error {
	seen := make(map[uint32]struct{}, len(free))
	for _, key := range free {
		if key == 0 || key >= nextKey {
			return fmt.Errorf("%w: free key %d out of range", ErrInvalidSnapshot, key)
		}
		if states[key-1][1] != 0 {
			return fmt.Errorf("%w: free key %d is alive", ErrInvalidSnapshot, key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: free key %d listed twice", ErrInvalidSnapshot, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func validateOwners(name string, nextKey uint32, states [][2]uint8, owners []Entity) error {
	seen := make(map[uint32]struct{}, len(owners))
	for _, e := range owners {
		key := e.Key()
		if key == 0 || key >= nextKey || states[key-1][1] == 0 || states[key-1][0] != e.Version() {
			return fmt.Errorf("%w: %s owned by dead %s", ErrInvalidSnapshot, name, e)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s owned twice by %s", ErrInvalidSnapshot, name, e)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (m *Manager) restoreEntities(nextKey uint32, states [][2]uint8, free []uint32) {
	t := m.reg.entities
	t.reset()
	for key := uint32(1); key < nextKey; key++ {
		state := states[key-1]
		t.entries = append(t.entries, entityInfo{version: state[0], alive: state[1] != 0})
		if state[1] != 0 {
			t.live++
		}
	}
	t.nextKey = nextKey
	t.free = append(t.free, free...)
}
