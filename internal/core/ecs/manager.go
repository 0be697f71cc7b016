package ecs

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/zeusync/nucleus/internal/core/ecs/scheduler"
	"github.com/zeusync/nucleus/internal/core/events/bus"
	"github.com/zeusync/nucleus/internal/core/observability/log"
	"github.com/zeusync/nucleus/pkg/concurrent"
)

// Built-in stages. StartStage runs once on the first frame, TickStage every frame.
const (
	StartStage = "start"
	TickStage  = "tick"
)

type Invocation = scheduler.Invocation

const (
	Immediate = scheduler.Immediate
	EndFrame  = scheduler.EndFrame
	NextFrame = scheduler.NextFrame
)

// Resolvable is implemented by every system. Setup runs once at registration.
type Resolvable interface {
	Setup(r *Resolver) error
}

// System runs sequentially with full context access.
type System interface {
	Resolvable
	Run(ctx *Context)
}

// ParallelSystem may share a pipeline node with other conflict-free parallel
// systems and run concurrently with them.
type ParallelSystem interface {
	Resolvable
	RunParallel(ctx *ParallelContext)
}

// SystemFunc adapts a function without setup into a System.
type SystemFunc func(ctx *Context)

func (f SystemFunc) Setup(*Resolver) error { return nil }
func (f SystemFunc) Run(ctx *Context)      { f(ctx) }

// SystemConfig declares a system and its footprint. Views resolved in Setup
// must name components listed in Reads or Writes.
type SystemConfig struct {
	Name  string
	Stage string
	// Order sorts systems within a stage, ties keep registration order.
	Order    int
	Reads    []string
	Writes   []string
	Parallel bool
	System   Resolvable
}

// SystemKey identifies a registered system.
type SystemKey uint32

type systemEntry struct {
	name     string
	stage    scheduler.StageKey
	order    int
	reads    []ComponentID
	writes   []ComponentID
	parallel bool
	run      System
	runPar   ParallelSystem
	removed  bool
}

// FrameStats summarizes one frame.
type FrameStats struct {
	Frame          uint64        `json:"frame"`
	Nodes          int           `json:"nodes"`
	Systems        int           `json:"systems"`
	Entities       int           `json:"entities"`
	Archetypes     int           `json:"archetypes"`
	Queries        int           `json:"queries"`
	Duration       time.Duration `json:"duration"`
	BudgetExceeded bool          `json:"budget_exceeded"`
	RefusedCreates int           `json:"refused_creates,omitempty"`
}

type Option func(*options)

type options struct {
	logger   log.Log
	bus      bus.EventBus
	budget   int
	parallel bool
	capacity int
}

func WithLogger(l log.Log) Option {
	return func(o *options) { o.logger = l }
}

// WithBus publishes structural and frame events on b.
func WithBus(b bus.EventBus) Option {
	return func(o *options) { o.bus = b }
}

// WithStageBudget bounds the stages popped per frame.
func WithStageBudget(n int) Option {
	return func(o *options) { o.budget = n }
}

// WithParallel runs multi-system pipeline nodes concurrently.
func WithParallel(enabled bool) Option {
	return func(o *options) { o.parallel = enabled }
}

func WithEntityCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// Manager owns the world and drives frames.
type Manager struct {
	reg       *registry
	scheduler *scheduler.Scheduler

	systems       []systemEntry
	systemsByName map[string]SystemKey
	active        []SystemKey

	// Command buffer drained at each flush
	created   []Entity
	destroyed []Entity
	// Structural events gathered by a flush, published once it completes
	events []bus.Event

	start scheduler.StageKey
	tick  scheduler.StageKey

	frame    uint64
	delta    time.Duration
	started  bool
	parallel bool
	stats    FrameStats
	began    time.Time

	logger log.Log
	bus    bus.EventBus
}

var _ Scope = (*Manager)(nil)

func NewManager(opts ...Option) *Manager {
	o := options{budget: scheduler.DefaultBudget}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNop()
	}

	m := &Manager{
		reg:           newRegistry(o.capacity),
		scheduler:     scheduler.New(o.budget),
		systemsByName: make(map[string]SystemKey),
		parallel:      o.parallel,
		logger:        o.logger,
		bus:           o.bus,
	}
	m.start, _ = m.scheduler.AddStage(StartStage, 0)
	m.tick, _ = m.scheduler.AddStage(TickStage, 0)
	if m.bus != nil {
		m.reg.hook = busHook{m: m}
	}
	return m
}

func (m *Manager) scope() *registry { return m.reg }

func (m *Manager) Logger() log.Log { return m.logger }

// AddStage declares a stage. A positive period makes it run every period of
// simulated time.
func (m *Manager) AddStage(name string, period time.Duration) error {
	if _, err := m.scheduler.AddStage(name, period); err != nil {
		return err
	}
	m.logger.Debug("stage added", log.String("stage", name), log.Duration("period", period))
	return nil
}

// RemoveStage drops a stage and every system registered in it.
func (m *Manager) RemoveStage(name string) error {
	if name == StartStage || name == TickStage {
		return fmt.Errorf("built-in stage %s cannot be removed", name)
	}
	key, ok := m.scheduler.Find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	for i := range m.systems {
		entry := &m.systems[i]
		if !entry.removed && entry.stage == key {
			entry.removed = true
			delete(m.systemsByName, entry.name)
		}
	}
	if err := m.scheduler.RemoveStage(key); err != nil {
		return err
	}
	m.rebuild()
	return nil
}

// HasStage reports whether a stage is declared.
func (m *Manager) HasStage(name string) bool {
	_, ok := m.scheduler.Find(name)
	return ok
}

func (m *Manager) addComponent(name string, kind StorageKind, size int, typ reflect.Type, build func(ComponentID) storage) (ComponentID, error) {
	if name == "" {
		return 0, errors.New("component name is required")
	}
	if _, exists := m.reg.byName[name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}
	uid := ComponentUID(name)
	if other, exists := m.reg.byUID[uid]; exists {
		return 0, fmt.Errorf("%w: %s collides with %s", ErrDuplicateComponent, name, m.reg.components[other].Name)
	}
	if len(m.reg.components) >= maxComponents {
		return 0, ErrTooManyComponents
	}

	id := ComponentID(len(m.reg.components))
	m.reg.components = append(m.reg.components, ComponentInfo{
		ID:      id,
		Name:    name,
		UID:     uid,
		Storage: kind,
		Size:    size,
		Type:    typ,
	})
	container := build(id)
	container.core().cycle = m.frame
	m.reg.containers = append(m.reg.containers, container)
	m.reg.byName[name] = id
	m.reg.byUID[uid] = id

	m.logger.Debug("component registered",
		log.String("component", name),
		log.Uint16("id", uint16(id)),
		log.String("storage", kind.String()),
	)
	return id, nil
}

// RegisterComponent declares a component stored as one T per entity.
func RegisterComponent[T any](m *Manager, name string) (ComponentHandle[T], error) {
	id, err := m.addComponent(name, StorageSingle, 1, reflect.TypeFor[T](), func(id ComponentID) storage {
		return newContainer[T](id, m.reg.entities)
	})
	if err != nil {
		return ComponentHandle[T]{}, err
	}
	return ComponentHandle[T]{id: id}, nil
}

// RegisterArrayComponent declares a component stored as size values of T
// per entity.
func RegisterArrayComponent[T any](m *Manager, name string, size int) (ArrayHandle[T], error) {
	if size <= 0 {
		return ArrayHandle[T]{}, fmt.Errorf("component %s: array size must be positive, got %d", name, size)
	}
	id, err := m.addComponent(name, StorageArray, size, reflect.TypeFor[T](), func(id ComponentID) storage {
		return newArrayContainer[T](id, m.reg.entities, size)
	})
	if err != nil {
		return ArrayHandle[T]{}, err
	}
	return ArrayHandle[T]{id: id, size: size}, nil
}

// Component looks up a registered component by name.
func (m *Manager) Component(name string) (ComponentInfo, bool) {
	id, ok := m.reg.component(name)
	if !ok {
		return ComponentInfo{}, false
	}
	return m.reg.components[id], true
}

func (m *Manager) Components() []ComponentInfo {
	return slices.Clone(m.reg.components)
}

func (m *Manager) resolveNames(names []string) ([]ComponentID, error) {
	ids := make([]ComponentID, 0, len(names))
	for _, name := range names {
		id, ok := m.reg.component(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RegisterSystem validates cfg, runs its Setup and bakes it into its stage.
// Any failure leaves the manager unchanged.
func (m *Manager) RegisterSystem(cfg SystemConfig) (SystemKey, error) {
	if cfg.Name == "" {
		return 0, errors.New("system name is required")
	}
	if _, exists := m.systemsByName[cfg.Name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateSystem, cfg.Name)
	}
	if cfg.Stage == "" {
		cfg.Stage = TickStage
	}
	stage, ok := m.scheduler.Find(cfg.Stage)
	if !ok {
		return 0, fmt.Errorf("system %s: %w: %s", cfg.Name, ErrStageNotFound, cfg.Stage)
	}

	entry := systemEntry{
		name:     cfg.Name,
		stage:    stage,
		order:    cfg.Order,
		parallel: cfg.Parallel,
	}
	run, sequential := cfg.System.(System)
	par, parallel := cfg.System.(ParallelSystem)
	switch {
	case cfg.Parallel && !parallel:
		return 0, fmt.Errorf("system %s: parallel systems must implement RunParallel", cfg.Name)
	case cfg.Parallel || (parallel && !sequential):
		entry.runPar = par
	case sequential:
		entry.run = run
	default:
		return 0, fmt.Errorf("system %s: %T implements neither Run nor RunParallel", cfg.Name, cfg.System)
	}

	reads, err := m.resolveNames(cfg.Reads)
	if err != nil {
		return 0, &ResolverError{System: cfg.Name, Err: err}
	}
	writes, err := m.resolveNames(cfg.Writes)
	if err != nil {
		return 0, &ResolverError{System: cfg.Name, Err: err}
	}
	reads = slices.DeleteFunc(reads, func(id ComponentID) bool { return slices.Contains(writes, id) })
	entry.reads, entry.writes = reads, writes

	resolver := &Resolver{reg: m.reg, system: cfg.Name, reads: reads, writes: writes}
	if err := cfg.System.Setup(resolver); err != nil {
		var resolverErr *ResolverError
		if errors.As(err, &resolverErr) {
			return 0, err
		}
		return 0, &ResolverError{System: cfg.Name, Err: err}
	}

	key := SystemKey(len(m.systems))
	m.systems = append(m.systems, entry)
	m.systemsByName[cfg.Name] = key
	m.rebuild()

	m.logger.Debug("system registered",
		log.String("system", cfg.Name),
		log.String("stage", cfg.Stage),
		log.Int("order", cfg.Order),
		log.Bool("parallel", cfg.Parallel),
	)
	return key, nil
}

// UnregisterSystem removes a system and rebakes the pipeline.
func (m *Manager) UnregisterSystem(key SystemKey) error {
	if int(key) >= len(m.systems) || m.systems[key].removed {
		return ErrSystemNotFound
	}
	entry := &m.systems[key]
	entry.removed = true
	delete(m.systemsByName, entry.name)
	m.rebuild()
	m.logger.Debug("system unregistered", log.String("system", entry.name))
	return nil
}

// System finds a registered system by name.
func (m *Manager) System(name string) (SystemKey, bool) {
	key, ok := m.systemsByName[name]
	return key, ok
}

func (m *Manager) rebuild() {
	m.active = m.active[:0]
	instances := make([]scheduler.Instance, 0, len(m.systems))
	for key, entry := range m.systems {
		if entry.removed {
			continue
		}
		m.active = append(m.active, SystemKey(key))
		instances = append(instances, scheduler.Instance{
			Stage:    entry.stage,
			Order:    entry.order,
			Parallel: entry.parallel,
			Reads:    toIDs(entry.reads),
			Writes:   toIDs(entry.writes),
		})
	}
	m.scheduler.Rebuild(instances)
	m.logger.Debug("pipeline rebuilt", log.Int("systems", len(instances)))
}

func toIDs(components []ComponentID) []uint16 {
	ids := make([]uint16, len(components))
	for i, c := range components {
		ids[i] = uint16(c)
	}
	return ids
}

// Invoke queues a stage by name.
func (m *Manager) Invoke(stage string, invocation Invocation) error {
	key, ok := m.scheduler.Find(stage)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStageNotFound, stage)
	}
	if err := m.scheduler.Invoke(key, invocation); err != nil {
		return err
	}
	if m.bus != nil && m.bus.HasSubscribers(bus.KindStageInvoked) {
		m.publish(bus.Event{Kind: bus.KindStageInvoked, Frame: m.frame, Name: stage, Data: invocation})
	}
	return nil
}

// Exec runs host code with unrestricted access, then flushes every container.
func (m *Manager) Exec(fn func(ctx *Context)) {
	fn(&Context{m: m, system: "exec", unrestricted: true})
	all := make([]ComponentID, len(m.reg.containers))
	for i := range all {
		all[i] = ComponentID(i)
	}
	m.flush(all)
}

// BeginFrame queues the frame's stages: next-frame requests, due periodic
// stages, then tick. The first frame runs the start stage before them.
func (m *Manager) BeginFrame(delta time.Duration) {
	m.delta = delta
	m.began = time.Now()
	m.stats = FrameStats{Frame: m.frame}
	if !m.started {
		m.started = true
		_ = m.scheduler.Invoke(m.start, scheduler.NextFrame)
	}
	m.scheduler.BeginFrame(delta, m.tick)
}

// Step runs the next pipeline node and flushes each of its systems in order.
// It returns false once the frame has no more work.
func (m *Manager) Step() (bool, error) {
	node, ok := m.scheduler.NextNode()
	if !ok {
		if err := m.scheduler.Err(); err != nil {
			if !m.stats.BudgetExceeded {
				m.stats.BudgetExceeded = true
				m.logger.Warn("stage budget exhausted, frame cut short", log.Uint64("frame", m.frame), log.Error(err))
			}
			return false, err
		}
		return false, nil
	}

	indices := m.scheduler.Instances(node)
	m.stats.Nodes++
	m.stats.Systems += len(indices)

	var runErr error
	if len(indices) > 1 && m.parallel {
		runErr = concurrent.Each(0, indices, func(index int) error {
			m.runParallel(&m.systems[m.active[index]])
			return nil
		})
	} else {
		for _, index := range indices {
			m.run(&m.systems[m.active[index]])
		}
	}

	for _, index := range indices {
		m.flush(m.systems[m.active[index]].writes)
	}
	if runErr != nil {
		return true, fmt.Errorf("parallel node: %w", runErr)
	}
	return true, nil
}

func (m *Manager) run(entry *systemEntry) {
	if entry.run != nil {
		entry.run.Run(&Context{m: m, system: entry.name, reads: entry.reads, writes: entry.writes})
		return
	}
	m.runParallel(entry)
}

func (m *Manager) runParallel(entry *systemEntry) {
	entry.runPar.RunParallel(&ParallelContext{
		reg:    m.reg,
		system: entry.name,
		frame:  m.frame,
		delta:  m.delta,
		logger: m.logger,
	})
}

// flush applies the command buffer and the structural changes of writes.
func (m *Manager) flush(writes []ComponentID) {
	for _, e := range m.created {
		m.reg.place(e)
	}
	m.created = m.created[:0]

	for _, c := range writes {
		m.reg.containers[c].flushAddedRemoved(m.reg)
	}

	for _, e := range m.destroyed {
		m.reg.destroy(e)
	}
	m.destroyed = m.destroyed[:0]

	for _, c := range writes {
		m.reg.containers[c].core().updateViewSize()
	}

	if len(m.events) > 0 {
		if err := m.bus.PublishBatch(m.events...); err != nil {
			m.logger.Warn("event handler failed", log.Int("events", len(m.events)), log.Error(err))
		}
		clear(m.events)
		m.events = m.events[:0]
	}
}

// EndFrame resets container cycles and publishes the frame statistics.
func (m *Manager) EndFrame() FrameStats {
	next := m.frame + 1
	for _, c := range m.reg.containers {
		c.core().endCycle(next)
	}
	m.stats.Entities = m.reg.entities.live
	m.stats.Archetypes = m.reg.archetypes.len()
	m.stats.Queries = m.reg.queries.len()
	m.stats.Duration = time.Since(m.began)
	stats := m.stats
	m.frame = next

	if m.bus != nil && m.bus.HasSubscribers(bus.KindFrameCompleted) {
		m.publish(bus.Event{Kind: bus.KindFrameCompleted, Frame: stats.Frame, Data: stats})
	}
	return stats
}

// Update runs one whole frame.
func (m *Manager) Update(delta time.Duration) error {
	m.BeginFrame(delta)
	for {
		ran, err := m.Step()
		if err != nil {
			m.EndFrame()
			return err
		}
		if !ran {
			break
		}
	}
	m.EndFrame()
	return nil
}

// Frame is the index of the frame being run, or the next one between frames.
func (m *Manager) Frame() uint64 { return m.frame }

// Stats returns the statistics of the frame in progress or last ended.
func (m *Manager) Stats() FrameStats { return m.stats }

func (m *Manager) Alive(e Entity) bool { return m.reg.entities.alive(e) }

// Entities returns the number of live entities.
func (m *Manager) Entities() int { return m.reg.entities.live }

// ArchetypeOf returns the archetype holding e once e has been flushed.
func (m *Manager) ArchetypeOf(e Entity) (ArchetypeID, bool) {
	return m.reg.archetypeOf(e)
}

// Signature returns the sorted components of a.
func (m *Manager) Signature(a ArchetypeID) []ComponentID {
	if int(a) >= m.reg.archetypes.len() {
		return nil
	}
	return slices.Clone(m.reg.archetypes.signature(a))
}

// Archetypes returns the number of distinct archetypes.
func (m *Manager) Archetypes() int { return m.reg.archetypes.len() }

// Pool returns the entities of a.
func (m *Manager) Pool(a ArchetypeID) []Entity {
	if int(a) >= m.reg.archetypes.len() {
		return nil
	}
	return slices.Clone(m.reg.archetypes.entries[a].pool)
}

// Query starts a query from host code.
func (m *Manager) Query() *QueryBuilder {
	return &QueryBuilder{reg: m.reg}
}

// QueryArchetypes returns the archetypes q currently matches.
func (m *Manager) QueryArchetypes(q Query) []ArchetypeID {
	if !m.reg.queries.valid(q) {
		return nil
	}
	return slices.Clone(m.reg.queries.archetypes(q))
}

func (m *Manager) publish(event bus.Event) {
	if err := m.bus.Publish(event); err != nil {
		m.logger.Warn("event handler failed", log.String("kind", event.Kind.String()), log.Error(err))
	}
}

// busHook queues flush transitions for the bus when someone listens.
type busHook struct {
	m *Manager
}

func (h busHook) component(kind bus.Kind, e Entity, c ComponentID) {
	if !h.m.bus.HasSubscribers(kind) {
		return
	}
	h.m.events = append(h.m.events, bus.Event{
		Kind:      kind,
		Frame:     h.m.frame,
		Entity:    uint32(e),
		Component: uint16(c),
		Name:      h.m.reg.components[c].Name,
	})
}

func (h busHook) entity(kind bus.Kind, e Entity) {
	if !h.m.bus.HasSubscribers(kind) {
		return
	}
	h.m.events = append(h.m.events, bus.Event{Kind: kind, Frame: h.m.frame, Entity: uint32(e)})
}

func (h busHook) componentAdded(e Entity, c ComponentID) {
	h.component(bus.KindComponentAdded, e, c)
}

func (h busHook) componentRemoved(e Entity, c ComponentID) {
	h.component(bus.KindComponentRemoved, e, c)
}

func (h busHook) entityCreated(e Entity)   { h.entity(bus.KindEntityCreated, e) }
func (h busHook) entityDestroyed(e Entity) { h.entity(bus.KindEntityDestroyed, e) }
