package scheduler

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/nucleus/pkg/sequence"
)

var (
	ErrStageNotFound       = errors.New("system stage not found")
	ErrDuplicateStage      = errors.New("system stage already exists")
	ErrStageBudgetExceeded = errors.New("stage invocation budget exceeded")
)

// DefaultBudget bounds how many stages may be popped in a single frame.
const DefaultBudget = 1024

// StageKey identifies a registered stage.
type StageKey uint32

// Invocation selects where an invoked stage is queued.
type Invocation uint8

const (
	// Immediate runs the stage as soon as the current node finishes, before
	// everything already queued. The rest of the interrupted stage resumes
	// after it. This differs from a plain push to the front of the queue,
	// where the current stage would run to its end first.
	Immediate Invocation = iota
	// EndFrame runs the stage after everything already queued this frame.
	EndFrame
	// NextFrame runs the stage at the start of the following frame.
	NextFrame
)

func (i Invocation) String() string {
	switch i {
	case Immediate:
		return "immediate"
	case EndFrame:
		return "end_frame"
	case NextFrame:
		return "next_frame"
	default:
		return "unknown"
	}
}

// Instance describes one registered system for baking.
type Instance struct {
	Stage    StageKey
	Order    int
	Parallel bool
	Reads    []uint16
	Writes   []uint16
}

// Node is one baked execution unit: Count instances starting at First in the
// instance index list. Count > 1 only for conflict-free parallel systems.
type Node struct {
	First int
	Count int
}

const noNode = -1

type node struct {
	first int
	count int
	next  int
}

type stageEntry struct {
	name      string
	period    time.Duration
	firstNode int
	removed   bool
}

type periodicStage struct {
	stage       StageKey
	period      time.Duration
	accumulator time.Duration
}

type queued struct {
	stage  StageKey
	resume int // node to resume from, noNode to start at the stage head
}

type Scheduler struct {
	stages []stageEntry
	byName map[string]StageKey
	// Baked nodes
	nodes           []node
	instanceIndices []int
	// Periodic invocations
	periodic []periodicStage
	// Runtime queues
	nextFrameStages sequence.Deque[StageKey]
	frameStages     sequence.Deque[queued]
	current         StageKey
	nextNode        int
	// Requeue guard
	budget    int
	popped    int
	exhausted bool
}

// New creates a scheduler allowing budget stage pops per frame.
func New(budget int) *Scheduler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Scheduler{
		byName:   make(map[string]StageKey),
		nextNode: noNode,
		budget:   budget,
	}
}

// AddStage declares a stage. A positive period makes it periodic.
func (s *Scheduler) AddStage(name string, period time.Duration) (StageKey, error) {
	if _, exists := s.byName[name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	if period < 0 {
		return 0, fmt.Errorf("stage %s: negative period %s", name, period)
	}
	key := StageKey(len(s.stages))
	s.stages = append(s.stages, stageEntry{name: name, period: period, firstNode: noNode})
	s.byName[name] = key
	if period > 0 {
		s.periodic = append(s.periodic, periodicStage{stage: key, period: period})
	}
	return key, nil
}

// RemoveStage forgets a stage. Callers rebuild afterwards.
func (s *Scheduler) RemoveStage(key StageKey) error {
	if !s.valid(key) {
		return ErrStageNotFound
	}
	entry := &s.stages[key]
	delete(s.byName, entry.name)
	entry.removed = true
	entry.firstNode = noNode
	s.periodic = slices.DeleteFunc(s.periodic, func(p periodicStage) bool { return p.stage == key })
	return nil
}

// Find resolves a stage by name.
func (s *Scheduler) Find(name string) (StageKey, bool) {
	key, ok := s.byName[name]
	return key, ok
}

// Name returns the stage name, or "" for unknown keys.
func (s *Scheduler) Name(key StageKey) string {
	if !s.valid(key) {
		return ""
	}
	return s.stages[key].name
}

// Period returns the stage period, zero for non-periodic stages.
func (s *Scheduler) Period(key StageKey) time.Duration {
	if !s.valid(key) {
		return 0
	}
	return s.stages[key].period
}

func (s *Scheduler) valid(key StageKey) bool {
	return int(key) < len(s.stages) && !s.stages[key].removed
}

// Rebuild bakes the instances into per-stage linked node lists. Instances are
// ordered by Order, then by position in the slice. Consecutive parallel
// instances whose footprints do not conflict share a node.
func (s *Scheduler) Rebuild(instances []Instance) {
	// Reset baked resources
	s.nodes = s.nodes[:0]
	s.instanceIndices = s.instanceIndices[:0]
	s.nextNode = noNode
	for i := range s.stages {
		s.stages[i].firstNode = noNode
	}

	for key := range s.stages {
		stage := StageKey(key)
		if s.stages[stage].removed {
			continue
		}
		var indices []int
		for index, instance := range instances {
			if instance.Stage == stage {
				indices = append(indices, index)
			}
		}
		if len(indices) == 0 {
			continue
		}
		slices.SortStableFunc(indices, func(a, b int) int {
			return cmp.Compare(instances[a].Order, instances[b].Order)
		})

		previous := noNode
		for _, index := range indices {
			if previous != noNode && s.joinable(instances, previous, index) {
				s.instanceIndices = append(s.instanceIndices, index)
				s.nodes[previous].count++
				continue
			}

			s.instanceIndices = append(s.instanceIndices, index)
			s.nodes = append(s.nodes, node{
				first: len(s.instanceIndices) - 1,
				count: 1,
				next:  noNode,
			})
			current := len(s.nodes) - 1

			if previous != noNode {
				s.nodes[previous].next = current
			} else {
				s.stages[stage].firstNode = current
			}
			previous = current
		}
	}
}

// joinable reports whether candidate may run in the same node as every
// instance already baked into node n.
func (s *Scheduler) joinable(instances []Instance, n, candidate int) bool {
	if !instances[candidate].Parallel {
		return false
	}
	nd := s.nodes[n]
	for _, member := range s.instanceIndices[nd.first : nd.first+nd.count] {
		if !instances[member].Parallel || Conflicts(instances[member], instances[candidate]) {
			return false
		}
	}
	return true
}

// Conflicts reports whether two footprints cannot run concurrently: one of
// them writes a component the other reads or writes.
func Conflicts(a, b Instance) bool {
	for _, w := range a.Writes {
		if slices.Contains(b.Writes, w) || slices.Contains(b.Reads, w) {
			return true
		}
	}
	for _, w := range b.Writes {
		if slices.Contains(a.Reads, w) {
			return true
		}
	}
	return false
}

// BeginFrame prepares the frame queue: stages requested last frame first, then
// every periodic stage that came due (possibly several times), then tick.
func (s *Scheduler) BeginFrame(delta time.Duration, tick StageKey) {
	s.popped = 0
	s.exhausted = false
	s.nextNode = noNode

	// Collect previous frame stages
	s.frameStages.Clear()
	for !s.nextFrameStages.IsEmpty() {
		stage, _ := s.nextFrameStages.PopFront()
		s.frameStages.PushBack(queued{stage: stage, resume: noNode})
	}

	// Integrate fixed update stages
	for i := range s.periodic {
		p := &s.periodic[i]
		p.accumulator += delta
		count := p.accumulator / p.period
		p.accumulator -= count * p.period
		for range count {
			s.frameStages.PushBack(queued{stage: p.stage, resume: noNode})
		}
	}

	// Append update stage
	s.frameStages.PushBack(queued{stage: tick, resume: noNode})
}

// NextNode returns the next node to execute this frame, or false once every
// queued stage is exhausted or the frame's stage budget ran out.
func (s *Scheduler) NextNode() (Node, bool) {
	if s.exhausted {
		return Node{}, false
	}
	// Detect end of current stage
	for s.nextNode == noNode {
		q, ok := s.frameStages.PopFront()
		if !ok {
			return Node{}, false
		}
		if q.resume != noNode {
			s.current = q.stage
			s.nextNode = q.resume
			continue
		}
		s.popped++
		if s.popped > s.budget {
			s.exhausted = true
			s.frameStages.Clear()
			return Node{}, false
		}
		if s.valid(q.stage) {
			s.current = q.stage
			s.nextNode = s.stages[q.stage].firstNode
		}
	}
	n := s.nodes[s.nextNode]
	s.nextNode = n.next
	return Node{First: n.first, Count: n.count}, true
}

// Instances returns the instance indices executed by n.
func (s *Scheduler) Instances(n Node) []int {
	return s.instanceIndices[n.First : n.First+n.Count]
}

// Invoke queues stage according to invocation.
func (s *Scheduler) Invoke(stage StageKey, invocation Invocation) error {
	if !s.valid(stage) {
		return ErrStageNotFound
	}
	switch invocation {
	case Immediate:
		if s.nextNode != noNode {
			s.frameStages.PushFront(queued{stage: s.current, resume: s.nextNode})
			s.nextNode = noNode
		}
		s.frameStages.PushFront(queued{stage: stage, resume: noNode})
	case EndFrame:
		s.frameStages.PushBack(queued{stage: stage, resume: noNode})
	case NextFrame:
		s.nextFrameStages.PushBack(stage)
	default:
		return fmt.Errorf("unknown invocation %d", invocation)
	}
	return nil
}

// Err reports ErrStageBudgetExceeded when the last frame was cut short.
func (s *Scheduler) Err() error {
	if s.exhausted {
		return ErrStageBudgetExceeded
	}
	return nil
}

// Pending returns the number of stages still queued this frame.
func (s *Scheduler) Pending() int {
	return s.frameStages.Len()
}

// Accumulator returns the carried remainder of a periodic stage.
func (s *Scheduler) Accumulator(stage StageKey) time.Duration {
	for _, p := range s.periodic {
		if p.stage == stage {
			return p.accumulator
		}
	}
	return 0
}

// StageNodes lists the baked nodes of a stage in execution order.
func (s *Scheduler) StageNodes(stage StageKey) []Node {
	if !s.valid(stage) {
		return nil
	}
	var out []Node
	for n := s.stages[stage].firstNode; n != noNode; n = s.nodes[n].next {
		out = append(out, Node{First: s.nodes[n].first, Count: s.nodes[n].count})
	}
	return out
}
