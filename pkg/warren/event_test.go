package warren

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEvent(t *testing.T) (*Node, *EventFactory) {
	t.Helper()
	node := setupNode(t)
	f, err := NewEventBuilder(node, "alerts").Create()
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return node, f
}

func TestEventNotifyAndWait(t *testing.T) {
	_, f := setupEvent(t)

	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()
	notifier, err := f.Notifier().DefaultEventID(4).Create()
	require.NoError(t, err)
	defer notifier.Close()

	n, err := notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, ok, err := listener.TryWaitOne()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventID(4), id)

	_, ok, err = listener.TryWaitOne()
	require.NoError(t, err)
	assert.False(t, ok, "delivery drains the event")

	_, err = notifier.NotifyWithID(9)
	require.NoError(t, err)
	id, ok, err = listener.TimedWaitOne(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventID(9), id)
}

func TestEventCoalescing(t *testing.T) {
	_, f := setupEvent(t)

	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()
	notifier, err := f.Notifier().Create()
	require.NoError(t, err)
	defer notifier.Close()

	for i := 0; i < 3; i++ {
		_, err := notifier.NotifyWithID(3)
		require.NoError(t, err)
	}
	_, err = notifier.NotifyWithID(1)
	require.NoError(t, err)

	var got []EventID
	require.NoError(t, listener.TryWaitAll(func(id EventID) { got = append(got, id) }))
	assert.Equal(t, []EventID{1, 3}, got, "repeats coalesce, delivery is ascending")
}

func TestEventNotifyCountsListeners(t *testing.T) {
	_, f := setupEvent(t)

	notifier, err := f.Notifier().Create()
	require.NoError(t, err)
	defer notifier.Close()

	n, err := notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nobody is listening yet")

	l1, err := f.Listener().Create()
	require.NoError(t, err)
	l2, err := f.Listener().Create()
	require.NoError(t, err)
	defer l2.Close()

	n, err = notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.NumberOfListeners())
	assert.Equal(t, 1, f.NumberOfNotifiers())

	require.NoError(t, l1.Close())
	require.NoError(t, l1.Close(), "closing a port twice is harmless")
	n, err = notifier.Notify()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEventIDBounds(t *testing.T) {
	node := setupNode(t)
	f, err := NewEventBuilder(node, "bounded").EventIDMaxValue(15).Create()
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, EventID(15), f.EventIDMaxValue())

	t.Run("default id above the maximum", func(t *testing.T) {
		_, err := f.Notifier().DefaultEventID(16).Create()
		assert.ErrorIs(t, err, ErrEventIDOutOfBounds)
	})

	t.Run("notification above the maximum", func(t *testing.T) {
		notifier, err := f.Notifier().Create()
		require.NoError(t, err)
		defer notifier.Close()

		_, err = notifier.NotifyWithID(16)
		assert.ErrorIs(t, err, ErrEventIDOutOfBounds)

		_, err = notifier.NotifyWithID(15)
		assert.NoError(t, err, "the maximum itself is deliverable")
	})
}

func TestEventTimedWaitExpires(t *testing.T) {
	_, f := setupEvent(t)

	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()

	start := time.Now()
	_, ok, err := listener.TimedWaitOne(50 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestEventBlockingWait(t *testing.T) {
	_, f := setupEvent(t)

	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()
	notifier, err := f.Notifier().Create()
	require.NoError(t, err)
	defer notifier.Close()

	woke := make(chan EventID, 1)
	go func() {
		id, err := listener.BlockingWaitOne()
		if err == nil {
			woke <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = notifier.NotifyWithID(7)
	require.NoError(t, err)

	select {
	case id := <-woke:
		assert.Equal(t, EventID(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never woke up")
	}
}

func TestEventChannel(t *testing.T) {
	_, f := setupEvent(t)

	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()
	notifier, err := f.Notifier().Create()
	require.NoError(t, err)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := listener.EventChannel(ctx)

	_, err = notifier.NotifyWithID(5)
	require.NoError(t, err)

	select {
	case id := <-events:
		assert.Equal(t, EventID(5), id)
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived on the channel")
	}

	cancel()
	for range events {
	}
}

func TestEventPortCaps(t *testing.T) {
	node := setupNode(t)
	f, err := NewEventBuilder(node, "narrow").MaxListeners(1).MaxNotifiers(1).Create()
	require.NoError(t, err)
	defer f.Close()

	l1, err := f.Listener().Create()
	require.NoError(t, err)
	defer l1.Close()
	_, err = f.Listener().Create()
	assert.ErrorIs(t, err, ErrExceedsMaxSupportedListeners)

	n1, err := f.Notifier().Create()
	require.NoError(t, err)
	defer n1.Close()
	_, err = f.Notifier().Create()
	assert.ErrorIs(t, err, ErrExceedsMaxSupportedNotifiers)
}

func TestEventOpenChecks(t *testing.T) {
	node, f := setupEvent(t)

	t.Run("compatible opener attaches", func(t *testing.T) {
		opened, err := NewEventBuilder(node, "alerts").
			MaxListeners(8).
			EventIDMaxValue(100).
			Open()
		require.NoError(t, err)
		assert.Equal(t, f.ID(), opened.ID())
		assert.NoError(t, opened.Close())
	})

	t.Run("excessive listener requirement", func(t *testing.T) {
		_, err := NewEventBuilder(node, "alerts").MaxListeners(64).Open()
		assert.ErrorIs(t, err, ErrDoesNotSupportRequestedAmountOfListeners)
	})

	t.Run("excessive notifier requirement", func(t *testing.T) {
		_, err := NewEventBuilder(node, "alerts").MaxNotifiers(64).Open()
		assert.ErrorIs(t, err, ErrDoesNotSupportRequestedAmountOfNotifiers)
	})

	t.Run("excessive id requirement", func(t *testing.T) {
		_, err := NewEventBuilder(node, "alerts").EventIDMaxValue(1000).Open()
		assert.ErrorIs(t, err, ErrEventIDOutOfBounds)
	})

	t.Run("excessive node requirement", func(t *testing.T) {
		_, err := NewEventBuilder(node, "alerts").MaxNodes(64).Open()
		assert.ErrorIs(t, err, ErrDoesNotSupportRequestedAmountOfNodes)
	})
}

func TestEventNodeSlots(t *testing.T) {
	node := setupNode(t)
	f, err := NewEventBuilder(node, "single-node").MaxNodes(1).Create()
	require.NoError(t, err)
	defer f.Close()

	// The creator took the only slot; every further attachment claims its
	// own, whether or not it comes from the same node.
	_, err = NewEventBuilder(node, "single-node").Open()
	assert.ErrorIs(t, err, ErrExceedsMaxNumberOfNodes)
}

func TestEventZeroCapacitiesNormalize(t *testing.T) {
	node := setupNode(t)
	f, err := NewEventBuilder(node, "tiny").
		MaxNotifiers(0).
		MaxListeners(0).
		MaxNodes(0).
		Create()
	require.NoError(t, err)
	defer f.Close()

	sc := f.StaticConfig()
	assert.Equal(t, uint32(1), sc.Event.MaxNotifiers)
	assert.Equal(t, uint32(1), sc.Event.MaxListeners)
	assert.Equal(t, uint32(1), sc.MaxNodes)

	notifier, err := f.Notifier().Create()
	require.NoError(t, err)
	defer notifier.Close()
	listener, err := f.Listener().Create()
	require.NoError(t, err)
	defer listener.Close()
}

func TestEventDeadlineIsDescriptive(t *testing.T) {
	node := setupNode(t)
	f, err := NewEventBuilder(node, "throttled").Deadline(2 * time.Second).Create()
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(2000), f.StaticConfig().Event.DeadlineMs)
	assert.Equal(t, EventID(255), f.EventIDMaxValue(), "untouched amounts keep their defaults")
}
