package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fooEvent struct{ N int }
type barEvent struct{ S string }

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	b := New()
	sub, err := b.Subscribe(new(fooEvent))
	require.NoError(t, err)
	defer sub.Close()

	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(fooEvent{N: 7}))
	got := <-sub.Out()
	require.Equal(t, fooEvent{N: 7}, got)
}

func TestEventTypesAreIsolated(t *testing.T) {
	b := New()
	fooSub, err := b.Subscribe(new(fooEvent))
	require.NoError(t, err)
	defer fooSub.Close()
	barSub, err := b.Subscribe(new(barEvent))
	require.NoError(t, err)
	defer barSub.Close()

	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	defer em.Close()
	require.NoError(t, em.Emit(fooEvent{N: 1}))

	<-fooSub.Out()
	select {
	case v := <-barSub.Out():
		t.Fatalf("unexpected event on unrelated subscription: %v", v)
	default:
	}
}

func TestStatefulEmitterDeliversLastValueToNewSubscriber(t *testing.T) {
	b := New()
	em, err := b.Emitter(new(fooEvent), Stateful())
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(fooEvent{N: 42}))

	sub, err := b.Subscribe(new(fooEvent))
	require.NoError(t, err)
	defer sub.Close()

	got := <-sub.Out()
	require.Equal(t, fooEvent{N: 42}, got)
}

func TestNonStatefulEmitterDoesNotReplay(t *testing.T) {
	b := New()
	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	defer em.Close()
	require.NoError(t, em.Emit(fooEvent{N: 1}))

	sub, err := b.Subscribe(new(fooEvent))
	require.NoError(t, err)
	defer sub.Close()

	select {
	case v := <-sub.Out():
		t.Fatalf("unexpected replay for non-stateful emitter: %v", v)
	default:
	}
}

func TestEmitAfterCloseReturnsError(t *testing.T) {
	b := New()
	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	require.NoError(t, em.Close())
	require.Error(t, em.Emit(fooEvent{N: 1}))
}

func TestSlowSubscriberDropsRatherThanBlocksPublisher(t *testing.T) {
	b := New()
	sub, err := b.Subscribe(new(fooEvent), WithBuffer(1))
	require.NoError(t, err)
	defer sub.Close()

	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	defer em.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, em.Emit(fooEvent{N: i}))
	}
	first := <-sub.Out()
	require.Equal(t, fooEvent{N: 0}, first)
}

func TestCloseRemovesSubscriptionFromNode(t *testing.T) {
	b := New()
	sub, err := b.Subscribe(new(fooEvent))
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	em, err := b.Emitter(new(fooEvent))
	require.NoError(t, err)
	defer em.Close()
	require.NoError(t, em.Emit(fooEvent{N: 1}))

	_, ok := <-sub.Out()
	require.False(t, ok, "channel should be closed after Close")
}
