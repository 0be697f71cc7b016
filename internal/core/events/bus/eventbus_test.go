package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_ Event) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_ Kind, handlers int, err error, _ int64) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got Event
	_, err := b.Subscribe(KindComponentAdded, func(e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(Event{Kind: KindComponentAdded, Entity: 7, Component: 2, Name: "position"}))
	assert.Equal(t, uint32(7), got.Entity)
	assert.Equal(t, "position", got.Name)
	assert.False(t, got.Timestamp.IsZero())
}

func TestKindsAreIsolated(t *testing.T) {
	b := New()
	created, destroyed := 0, 0
	_, _ = b.Subscribe(KindEntityCreated, func(Event) error { created++; return nil })
	_, _ = b.Subscribe(KindEntityDestroyed, func(Event) error { destroyed++; return nil })

	require.NoError(t, b.Publish(Event{Kind: KindEntityCreated}))
	assert.Equal(t, 1, created)
	assert.Zero(t, destroyed)
}

func TestHasSubscribersTracksCancel(t *testing.T) {
	b := New()
	assert.False(t, b.HasSubscribers(KindFrameCompleted))

	sub, err := b.Subscribe(KindFrameCompleted, func(Event) error { return nil })
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, KindFrameCompleted, sub.Kind())
	assert.True(t, b.HasSubscribers(KindFrameCompleted))

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	assert.False(t, sub.IsActive())
	assert.False(t, b.HasSubscribers(KindFrameCompleted))
	require.NoError(t, b.Unsubscribe(nil))
}

func TestInvalidKind(t *testing.T) {
	b := New()
	_, err := b.Subscribe(Kind(0), func(Event) error { return nil })
	require.ErrorIs(t, err, ErrInvalidKind)
	require.ErrorIs(t, b.Publish(Event{Kind: kindCount}), ErrInvalidKind)
	assert.False(t, b.HasSubscribers(Kind(200)))
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	first, second := errors.New("first"), errors.New("second")
	_, _ = b.Subscribe(KindStageInvoked, func(Event) error { return first })
	_, _ = b.Subscribe(KindStageInvoked, func(Event) error { return second })

	err := b.Publish(Event{Kind: KindStageInvoked})
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)

	err = b.PublishBatch(Event{Kind: KindStageInvoked}, Event{Kind: KindEntityCreated})
	require.ErrorIs(t, err, first)
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe(KindEntityCreated, func(Event) error { return nil })
	require.NoError(t, b.Publish(Event{Kind: KindEntityCreated}))
	assert.Zero(t, b.GetMetrics().Published)

	obs := &testObserver{}
	b.AddObserver(obs)
	require.NoError(t, b.Publish(Event{Kind: KindEntityCreated}))
	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	require.NoError(t, b.Publish(Event{Kind: KindEntityCreated}))
	assert.Equal(t, 1, obs.publishCount)
}
