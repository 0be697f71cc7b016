package ecs

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotWorld struct {
	m      *Manager
	pos    ComponentHandle[Position]
	vel    ComponentHandle[Velocity]
	tags   ArrayHandle[int32]
	marker ComponentHandle[struct{}]
}

// newSnapshotWorld registers the components in the given order so ids
// differ between the saving and the loading manager.
func newSnapshotWorld(t *testing.T, reversed bool) snapshotWorld {
	t.Helper()
	w := snapshotWorld{m: NewManager()}
	steps := []func() error{
		func() (err error) { w.pos, err = RegisterComponent[Position](w.m, "position"); return err },
		func() (err error) { w.vel, err = RegisterComponent[Velocity](w.m, "velocity"); return err },
		func() (err error) { w.tags, err = RegisterArrayComponent[int32](w.m, "tags", 2); return err },
		func() (err error) { w.marker, err = RegisterComponent[struct{}](w.m, "marker"); return err },
	}
	for i := range steps {
		step := steps[i]
		if reversed {
			step = steps[len(steps)-1-i]
		}
		require.NoError(t, step())
	}
	return w
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newSnapshotWorld(t, false)
	var e1, e2, e3, e4, gone Entity
	src.m.Exec(func(ctx *Context) {
		pos, _ := WriteOf(ctx, src.pos)
		vel, _ := WriteOf(ctx, src.vel)
		tags, _ := ArrayWriteOf(ctx, src.tags)
		marker, _ := WriteOf(ctx, src.marker)

		e1 = ctx.Create()
		pos.Add(e1, Position{X: 1, Y: 2})
		vel.Add(e1, Velocity{X: 3, Y: 4})
		e2 = ctx.Create()
		pos.Add(e2, Position{X: 5})
		tags.Add(e2, []int32{7, 8})
		e3 = ctx.Create()
		marker.Add(e3, struct{}{})
		e4 = ctx.Create()
		gone = ctx.Create()
	})
	src.m.Exec(func(ctx *Context) { ctx.Destroy(gone) })

	var buf bytes.Buffer
	require.NoError(t, src.m.Save(&buf))

	dst := newSnapshotWorld(t, true)
	q, err := dst.m.Query().All("position").Build()
	require.NoError(t, err)
	require.NoError(t, dst.m.Load(&buf))

	assert.Equal(t, 4, dst.m.Entities())
	for _, e := range []Entity{e1, e2, e3, e4} {
		assert.True(t, dst.m.Alive(e), "%s", e)
	}
	assert.False(t, dst.m.Alive(gone))
	assert.Equal(t, 2, q.Count(dst.m), "queries registered before the load see restored archetypes")

	dst.m.Exec(func(ctx *Context) {
		pos, _ := ReadOf(ctx, dst.pos)
		vel, _ := ReadOf(ctx, dst.vel)
		tags, _ := ArrayReadOf(ctx, dst.tags)
		marker, _ := ReadOf(ctx, dst.marker)

		p, ok := pos.Get(e1)
		require.True(t, ok)
		assert.Equal(t, Position{X: 1, Y: 2}, p)
		v, ok := vel.Get(e1)
		require.True(t, ok)
		assert.Equal(t, Velocity{X: 3, Y: 4}, v)
		tv, ok := tags.Get(e2)
		require.True(t, ok)
		assert.Equal(t, []int32{7, 8}, tv)
		assert.True(t, marker.Has(e3))
		assert.False(t, pos.Has(e4))

		status, _, _ := pos.Status(e1)
		assert.Equal(t, StatusUnchanged, status)
	})

	a1, ok := dst.m.ArchetypeOf(e1)
	require.True(t, ok)
	expected := []ComponentID{dst.pos.ID(), dst.vel.ID()}
	if expected[0] > expected[1] {
		expected[0], expected[1] = expected[1], expected[0]
	}
	assert.Equal(t, expected, dst.m.Signature(a1))
	a4, _ := dst.m.ArchetypeOf(e4)
	assert.Equal(t, EmptyArchetype, a4)

	// The free list survives, so the destroyed key comes back one version up
	var next Entity
	dst.m.Exec(func(ctx *Context) { next = ctx.Create() })
	assert.Equal(t, gone.Key(), next.Key())
	assert.Equal(t, gone.Version()+1, next.Version())
}

func TestSnapshotRejectsUnknownComponent(t *testing.T) {
	src := newSnapshotWorld(t, false)
	src.m.Exec(func(ctx *Context) {
		vel, _ := WriteOf(ctx, src.vel)
		vel.Add(ctx.Create(), Velocity{X: 1})
	})
	var buf bytes.Buffer
	require.NoError(t, src.m.Save(&buf))

	dst := NewManager()
	_, err := RegisterComponent[Position](dst, "position")
	require.NoError(t, err)
	dst.Exec(func(ctx *Context) { ctx.Create() })

	err = dst.Load(&buf)
	require.ErrorIs(t, err, ErrUnknownComponent)
	assert.Equal(t, 1, dst.Entities(), "a rejected snapshot leaves the world alone")
}

func TestSnapshotRejectsStorageMismatch(t *testing.T) {
	src := newSnapshotWorld(t, false)
	var buf bytes.Buffer
	require.NoError(t, src.m.Save(&buf))

	dst := NewManager()
	for _, name := range []string{"position", "velocity", "marker"} {
		_, err := RegisterComponent[Position](dst, name)
		require.NoError(t, err)
	}
	_, err := RegisterComponent[int32](dst, "tags")
	require.NoError(t, err)

	require.ErrorIs(t, dst.Load(&buf), ErrInvalidSnapshot)
}

func TestSnapshotRejectsCorruptInput(t *testing.T) {
	src := newSnapshotWorld(t, false)
	src.m.Exec(func(ctx *Context) {
		pos, _ := WriteOf(ctx, src.pos)
		pos.Add(ctx.Create(), Position{X: 1})
	})
	var buf bytes.Buffer
	require.NoError(t, src.m.Save(&buf))
	data := buf.Bytes()

	dst := newSnapshotWorld(t, false)
	dst.m.Exec(func(ctx *Context) {
		ctx.Create()
		ctx.Create()
	})
	require.ErrorIs(t, dst.m.Load(bytes.NewReader([]byte("XXXX\x01\x00\x00\x00"))), ErrInvalidSnapshot)
	assert.Error(t, dst.m.Load(bytes.NewReader(data[:len(data)/2])))
	assert.Error(t, dst.m.Load(bytes.NewReader(nil)))
	assert.Equal(t, 2, dst.m.Entities())

	require.NoError(t, dst.m.Load(bytes.NewReader(data)))
	assert.Equal(t, 1, dst.m.Entities())
}

type rawRecord struct {
	name     string
	typeName string
	kind     StorageKind
	size     uint32
	data     []byte
	owners   []Entity
}

// rawSnapshot hand-writes a snapshot in the Save layout.
func rawSnapshot(t *testing.T, nextKey uint32, states [][2]uint8, free []uint32, records ...rawRecord) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	sw := &snapshotWriter{w: bufio.NewWriter(&buf)}
	sw.write(snapshotMagic)
	sw.write(nextKey)
	sw.write(states)
	sw.write(uint32(len(free)))
	sw.write(free)
	sw.write(uint32(len(records)))
	for _, r := range records {
		sw.write(ComponentUID(r.name))
		sw.bytes([]byte(r.name))
		sw.bytes([]byte(r.typeName))
		sw.write(uint8(r.kind))
		sw.write(r.size)
		sw.write(uint32(len(r.owners)))
		sw.bytes(r.data)
		sw.write(r.owners)
	}
	require.NoError(t, sw.err)
	require.NoError(t, sw.w.Flush())
	return bytes.NewReader(buf.Bytes())
}

// liveWorld holds one entity with a position.
func liveWorld(t *testing.T) (snapshotWorld, Entity) {
	t.Helper()
	w := newSnapshotWorld(t, false)
	var e Entity
	w.m.Exec(func(ctx *Context) {
		e = ctx.Create()
		pos, _ := WriteOf(ctx, w.pos)
		pos.Add(e, Position{X: 9, Y: 9})
	})
	return w, e
}

func assertWorldIntact(t *testing.T, w snapshotWorld, e Entity) {
	t.Helper()
	assert.Equal(t, 1, w.m.Entities())
	assert.True(t, w.m.Alive(e))
	w.m.Exec(func(ctx *Context) {
		pos, _ := ReadOf(ctx, w.pos)
		p, ok := pos.Get(e)
		assert.True(t, ok)
		assert.Equal(t, Position{X: 9, Y: 9}, p)
	})
	a, ok := w.m.ArchetypeOf(e)
	require.True(t, ok)
	assert.Equal(t, []ComponentID{w.pos.ID()}, w.m.Signature(a))
}

func TestSnapshotDecodeFailureKeepsWorld(t *testing.T) {
	w, e := liveWorld(t)
	owner := newEntity(1, 0)
	snapshot := rawSnapshot(t, 2, [][2]uint8{{0, 1}}, nil,
		rawRecord{name: "velocity", typeName: "ecs.Velocity", kind: StorageSingle, size: 1},
		rawRecord{
			name: "position", typeName: "ecs.Position", kind: StorageSingle, size: 1,
			data: []byte("not a gob stream"), owners: []Entity{owner},
		},
	)

	err := w.m.Load(snapshot)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.ErrorContains(t, err, "decode component position")
	assertWorldIntact(t, w, e)
}

type relabelled struct{ Name string }

func TestSnapshotRejectsValueTypeChange(t *testing.T) {
	src := newSnapshotWorld(t, false)
	src.m.Exec(func(ctx *Context) {
		pos, _ := WriteOf(ctx, src.pos)
		pos.Add(ctx.Create(), Position{X: 1})
	})
	var buf bytes.Buffer
	require.NoError(t, src.m.Save(&buf))

	dst := NewManager()
	_, err := RegisterComponent[Velocity](dst, "velocity")
	require.NoError(t, err)
	_, err = RegisterComponent[struct{}](dst, "marker")
	require.NoError(t, err)
	h, err := RegisterComponent[relabelled](dst, "position")
	require.NoError(t, err)
	_, err = RegisterArrayComponent[int32](dst, "tags", 2)
	require.NoError(t, err)
	var e Entity
	dst.Exec(func(ctx *Context) {
		e = ctx.Create()
		w, _ := WriteOf(ctx, h)
		w.Add(e, relabelled{Name: "kept"})
	})

	err = dst.Load(&buf)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.ErrorContains(t, err, "ecs.Position")
	dst.Exec(func(ctx *Context) {
		r, _ := ReadOf(ctx, h)
		v, ok := r.Get(e)
		assert.True(t, ok)
		assert.Equal(t, "kept", v.Name)
	})
}

func TestSnapshotRejectsBadFreeList(t *testing.T) {
	states := [][2]uint8{{0, 1}, {1, 0}}
	cases := map[string][]uint32{
		"null key":     {0},
		"out of range": {3},
		"alive key":    {1},
		"repeated key": {2, 2},
	}
	for name, free := range cases {
		t.Run(name, func(t *testing.T) {
			w, e := liveWorld(t)
			require.ErrorIs(t, w.m.Load(rawSnapshot(t, 3, states, free)), ErrInvalidSnapshot)
			assertWorldIntact(t, w, e)
		})
	}

	// The same table with a valid free list loads and recycles key 2
	w, _ := liveWorld(t)
	require.NoError(t, w.m.Load(rawSnapshot(t, 3, states, []uint32{2})))
	live := newEntity(1, 0)
	assert.True(t, w.m.Alive(live))
	var created Entity
	w.m.Exec(func(ctx *Context) { created = ctx.Create() })
	assert.Equal(t, newEntity(2, 1), created)
	assert.NotEqual(t, live, created)
}

func TestSnapshotRejectsDuplicateRecords(t *testing.T) {
	states := [][2]uint8{{0, 1}, {0, 1}}
	owner := newEntity(1, 0)

	t.Run("owner", func(t *testing.T) {
		w, e := liveWorld(t)
		snapshot := rawSnapshot(t, 3, states, nil, rawRecord{
			name: "marker", typeName: "struct {}", kind: StorageSingle, size: 1,
			owners: []Entity{owner, owner},
		})
		require.ErrorIs(t, w.m.Load(snapshot), ErrInvalidSnapshot)
		assertWorldIntact(t, w, e)
	})

	t.Run("component", func(t *testing.T) {
		w, e := liveWorld(t)
		marker := rawRecord{name: "marker", typeName: "struct {}", kind: StorageSingle, size: 1}
		require.ErrorIs(t, w.m.Load(rawSnapshot(t, 3, states, nil, marker, marker)), ErrInvalidSnapshot)
		assertWorldIntact(t, w, e)
	})
}
