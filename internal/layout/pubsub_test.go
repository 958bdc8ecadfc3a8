package layout

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPubSub(p PubSubParams) *PubSub {
	ps := MapPubSub(region(PubSubSize(p)), p)
	for i := uint32(0); i < p.MaxSubscribers; i++ {
		ps.ResetSubRing(i)
	}
	for i := uint32(0); i < p.MaxPublishers; i++ {
		ps.ResetHistory(i)
	}
	return ps
}

func sample(b byte) []byte {
	return []byte{b, 0, 0, 0, 0, 0, 0, 0}
}

func TestPubSubPushPop(t *testing.T) {
	p := PubSubParams{MaxPublishers: 1, MaxSubscribers: 1, BufferCap: 2, SlotSize: 8}
	ps := newPubSub(p)

	assert.False(t, ps.HasSamples(0))

	require.True(t, ps.Push(0, 1, sample(1), false))
	require.True(t, ps.Push(0, 1, sample(2), false))
	assert.True(t, ps.HasSamples(0))

	assert.False(t, ps.Push(0, 1, sample(3), false), "full ring rejects without overflow")

	dst := make([]byte, 8)
	n, ok := ps.Pop(0, dst)
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, byte(1), dst[0], "oldest first")

	_, ok = ps.Pop(0, dst)
	require.True(t, ok)
	assert.Equal(t, byte(2), dst[0])

	_, ok = ps.Pop(0, dst)
	assert.False(t, ok, "ring drained")
	assert.False(t, ps.HasSamples(0))

	require.True(t, ps.Push(0, 1, sample(4), false), "drained capacity is reusable")
}

func TestPubSubOverflow(t *testing.T) {
	p := PubSubParams{MaxPublishers: 1, MaxSubscribers: 1, BufferCap: 2, SlotSize: 8}
	ps := newPubSub(p)

	require.True(t, ps.Push(0, 1, sample(1), true))
	require.True(t, ps.Push(0, 1, sample(2), true))
	require.True(t, ps.Push(0, 1, sample(3), true), "overflow drops the oldest instead of rejecting")

	dst := make([]byte, 8)
	_, ok := ps.Pop(0, dst)
	require.True(t, ok)
	assert.Equal(t, byte(2), dst[0], "sample 1 was dropped")

	_, ok = ps.Pop(0, dst)
	require.True(t, ok)
	assert.Equal(t, byte(3), dst[0])
}

func TestPubSubSubscriberRingsAreIndependent(t *testing.T) {
	p := PubSubParams{MaxPublishers: 1, MaxSubscribers: 2, BufferCap: 2, SlotSize: 8}
	ps := newPubSub(p)

	require.True(t, ps.Push(0, 1, sample(1), false))
	assert.True(t, ps.HasSamples(0))
	assert.False(t, ps.HasSamples(1))
}

func TestPubSubHistory(t *testing.T) {
	p := PubSubParams{MaxPublishers: 1, MaxSubscribers: 1, BufferCap: 2, HistoryCap: 2, SlotSize: 8}
	ps := newPubSub(p)

	var got []byte
	ps.ReadHistory(0, func(n uint64, data []byte) { got = append(got, data[0]) })
	assert.Empty(t, got)

	ps.AppendHistory(0, 1, sample(1))
	ps.AppendHistory(0, 1, sample(2))
	ps.AppendHistory(0, 1, sample(3))

	ps.ReadHistory(0, func(n uint64, data []byte) { got = append(got, data[0]) })
	assert.Equal(t, []byte{2, 3}, got, "newest HistoryCap samples, oldest first")
}

func TestPubSubHistoryDisabled(t *testing.T) {
	p := PubSubParams{MaxPublishers: 1, MaxSubscribers: 1, BufferCap: 2, HistoryCap: 0, SlotSize: 8}
	ps := newPubSub(p)

	ps.AppendHistory(0, 1, sample(1))

	var calls int
	ps.ReadHistory(0, func(n uint64, data []byte) { calls++ })
	assert.Zero(t, calls)
}

func TestPubSubConcurrentDelivery(t *testing.T) {
	// Two producers feed one consumer. Every accepted push is consumed
	// exactly once.
	p := PubSubParams{MaxPublishers: 2, MaxSubscribers: 1, BufferCap: 8, SlotSize: 8}
	ps := newPubSub(p)

	const perProducer = 500
	var pushed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := sample(7)
			for i := 0; i < perProducer; i++ {
				if ps.Push(0, 1, buf, false) {
					pushed.Add(1)
				}
			}
		}()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	var popped int64
	go func() {
		defer close(done)
		dst := make([]byte, 8)
		for {
			if _, ok := ps.Pop(0, dst); ok {
				popped++
				continue
			}
			select {
			case <-stop:
				for {
					if _, ok := ps.Pop(0, dst); !ok {
						return
					}
					popped++
				}
			default:
				runtime.Gosched()
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-done
	assert.Equal(t, pushed.Load(), popped)
}
