package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidKind = errors.New("invalid event kind")

// subscription implements Subscription.
type subscription struct {
	id      string
	kind    Kind
	handler Handler
	active  atomic.Bool
	cancel  func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Kind() Kind     { return s.kind }
func (s *subscription) IsActive() bool { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.active.Swap(false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus is a thread-safe EventBus with optional observers.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: kind -> subID -> subscription
	handlers  [kindCount]map[string]*subscription
	counts    [kindCount]atomic.Int32
	metrics   Metrics
	observers map[Observer]struct{}
}

// New creates a new EventBus instance.
func New() EventBus {
	b := &inMemoryBus{
		observers: make(map[Observer]struct{}),
	}
	for i := range b.handlers {
		b.handlers[i] = make(map[string]*subscription)
	}
	return b
}

func (b *inMemoryBus) Publish(event Event) error {
	if event.Kind == 0 || event.Kind >= kindCount {
		return fmt.Errorf("%w: %d", ErrInvalidKind, event.Kind)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.deliver(event)
}

func (b *inMemoryBus) PublishBatch(events ...Event) error {
	var all error
	for _, e := range events {
		if err := b.Publish(e); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *inMemoryBus) Subscribe(kind Kind, handler Handler) (Subscription, error) {
	if kind == 0 || kind >= kindCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	s := &subscription{id: id, kind: kind, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.handlers[kind][id]; ok {
			delete(b.handlers[kind], id)
			b.counts[kind].Add(-1)
		}
	}
	b.handlers[kind][id] = s
	b.counts[kind].Add(1)
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) HasSubscribers(kind Kind) bool {
	if kind == 0 || kind >= kindCount {
		return false
	}
	return b.counts[kind].Load() > 0
}

func (b *inMemoryBus) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus) deliver(event Event) error {
	start := time.Now()
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[event.Kind]))
	for _, s := range b.handlers[event.Kind] {
		subs = append(subs, s)
	}
	var observers []Observer
	if len(b.observers) > 0 {
		observers = make([]Observer, 0, len(b.observers))
		for obs := range b.observers {
			observers = append(observers, obs)
		}
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(event)
	}

	var all error
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(event.Kind, len(subs), all, dur)
		}
		// update metrics only when observing
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(len(subs))
		if all != nil {
			b.metrics.Errors++
		}
		var active uint64
		for i := range b.counts {
			active += uint64(b.counts[i].Load())
		}
		b.metrics.SubscribersActive = active
		b.mu.Unlock()
	}
	return all
}
