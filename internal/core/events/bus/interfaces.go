package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus for world events.
//
// Key characteristics:
// - Kind-based fan-out: handlers subscribe to one Kind.
// - Synchronous delivery: Publish calls handlers in the caller goroutine.
// - Error aggregation: handler errors are joined and returned from Publish/PublishBatch.
// - Cheap silence: HasSubscribers lets publishers skip building events nobody reads.
// - Optional observability: metrics are produced only when observers are registered.
type EventBus interface {
	// Publish delivers the event synchronously to every active subscriber of
	// event.Kind. If one or more handlers fail, a joined error is returned.
	Publish(event Event) error
	// PublishBatch publishes events in order and aggregates errors across them.
	PublishBatch(events ...Event) error

	// Subscribe registers handler for kind.
	Subscribe(kind Kind, handler Handler) (Subscription, error)
	// Unsubscribe cancels sub. It is safe to call with nil.
	Unsubscribe(sub Subscription) error
	// HasSubscribers reports whether any handler listens to kind.
	HasSubscribers(kind Kind) bool

	// AddObserver registers an observer to receive delivery callbacks.
	AddObserver(obs Observer)
	// RemoveObserver unregisters a previously added observer.
	RemoveObserver(obs Observer)
	// GetMetrics returns a best-effort snapshot of accumulated metrics.
	GetMetrics() Metrics
}

// Kind routes events to subscribers.
type Kind uint8

const (
	KindEntityCreated Kind = iota + 1
	KindEntityDestroyed
	KindComponentAdded
	KindComponentRemoved
	KindStageInvoked
	KindFrameCompleted

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindEntityCreated:
		return "entity.created"
	case KindEntityDestroyed:
		return "entity.destroyed"
	case KindComponentAdded:
		return "component.added"
	case KindComponentRemoved:
		return "component.removed"
	case KindStageInvoked:
		return "stage.invoked"
	case KindFrameCompleted:
		return "frame.completed"
	default:
		return "unknown"
	}
}

// Event is an immutable message. Fields that do not apply to Kind are zero.
type Event struct {
	Kind      Kind
	Frame     uint64
	Entity    uint32
	Component uint16
	// Name is the component or stage name.
	Name      string
	Data      any
	Timestamp time.Time
}

type (
	// Handler is invoked per delivered event. Returned errors are aggregated
	// by the publisher.
	Handler func(event Event) error
)

// Subscription is a registered handler. Cancel or Unsubscribe stops delivery.
type Subscription interface {
	ID() string
	Kind() Kind
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// Observer is notified about deliveries. Observers should return quickly.
type Observer interface {
	OnPublish(event Event)
	OnDelivered(kind Kind, handlers int, err error, durationMicros int64)
}

// Metrics is updated only while at least one observer is registered.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
