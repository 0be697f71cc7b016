package bus

import (
	"strconv"
	"sync/atomic"
	"testing"
)

// no-op handler that increments a counter to avoid compiler eliminating logic
func makeHandler(c *int64) Handler {
	return func(Event) error {
		atomic.AddInt64(c, 1)
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) OnPublish(Event)                     {}
func (nopObserver) OnDelivered(Kind, int, error, int64) {}

func BenchmarkPublishSingleSubscriber(b *testing.B) {
	bus := New()
	var c int64
	_, _ = bus.Subscribe(KindComponentAdded, makeHandler(&c))
	e := Event{Kind: KindComponentAdded, Entity: 1}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(e)
	}
}

func BenchmarkPublishManySubscribers(b *testing.B) {
	for _, subs := range []int{1, 16, 256} {
		b.Run("subs="+strconv.Itoa(subs), func(b *testing.B) {
			bus := New()
			var c int64
			for i := 0; i < subs; i++ {
				_, _ = bus.Subscribe(KindComponentAdded, makeHandler(&c))
			}
			e := Event{Kind: KindComponentAdded}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = bus.Publish(e)
			}
		})
	}
}

func BenchmarkPublishWithObserver(b *testing.B) {
	bus := New()
	var c int64
	_, _ = bus.Subscribe(KindFrameCompleted, makeHandler(&c))
	bus.AddObserver(nopObserver{})
	e := Event{Kind: KindFrameCompleted}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(e)
	}
}

func BenchmarkHasSubscribers(b *testing.B) {
	bus := New()
	for i := 0; i < b.N; i++ {
		_ = bus.HasSubscribers(KindEntityCreated)
	}
}
