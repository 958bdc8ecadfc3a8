package warren

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
)

const receivePollInterval = time.Millisecond

// SubscriberBuilder builds one subscriber port.
type SubscriberBuilder[T any] struct {
	f *PublishSubscribeFactory[T]
}

// Create attaches the subscriber. It fails with
// ErrExceedsMaxSupportedSubscribers when every subscriber slot is taken.
// Publisher history is replayed into the fresh buffer, oldest first.
func (b *SubscriberBuilder[T]) Create() (*Subscriber[T], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	// The ring is reset inside the claim, before the slot turns busy: a
	// publisher that can see the slot may already be pushing, and a reset
	// under a running push wedges the ring.
	slot, ok := svc.dyn.ClaimPort(layout.RoleSubscriber, id, b.f.nodeID, 0, svc.ps.ResetSubRing)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedSubscribers, svc.dyn.Capacity(layout.RoleSubscriber))
	}

	// Pull the history of every live publisher. Seeding overflows like a
	// safe-overflow send so the newest samples always fit.
	pubCaps := svc.dyn.Capacity(layout.RolePublisher)
	for i := uint32(0); i < pubCaps; i++ {
		if _, ok := svc.dyn.PortAt(layout.RolePublisher, i); !ok {
			continue
		}
		svc.ps.ReadHistory(i, func(numElems uint64, data []byte) {
			svc.ps.Push(slot, numElems, data, true)
		})
	}

	pc := svc.static.PublishSubscribe
	slotSize := pc.PayloadType.Size
	if pc.PayloadType.Variant == TypeVariantDynamic {
		slotSize *= uint64(pc.MaxSliceLen)
	}
	return &Subscriber[T]{svc: svc, id: id, slot: slot, slotSize: slotSize}, nil
}

// Subscriber receives samples from a publish-subscribe service.
type Subscriber[T any] struct {
	svc      *service
	id       [16]byte
	slot     uint32
	slotSize uint64
	closed   atomic.Bool
	closer   portCloser
}

// ID returns the port's unique id.
func (s *Subscriber[T]) ID() string {
	return portIDString(s.id)
}

// HasSamples reports whether a sample is waiting.
func (s *Subscriber[T]) HasSamples() bool {
	if s.closed.Load() {
		return false
	}
	return s.svc.ps.HasSamples(s.slot)
}

// Receive returns the oldest buffered sample, or nil when the buffer is
// empty.
func (s *Subscriber[T]) Receive() (*Sample[T], error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: subscriber is closed", ErrPortClosed)
	}
	buf := alignedBytes(s.slotSize)
	numElems, ok := s.svc.ps.Pop(s.slot, buf)
	if !ok {
		return nil, nil
	}
	return &Sample[T]{buf: buf, numElems: int(numElems)}, nil
}

// ReceiveWithContext polls until a sample arrives or the context ends.
func (s *Subscriber[T]) ReceiveWithContext(ctx context.Context) (*Sample[T], error) {
	t := time.NewTicker(receivePollInterval)
	defer t.Stop()
	for {
		sample, err := s.Receive()
		if err != nil || sample != nil {
			return sample, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Close detaches the port. Samples already received stay valid.
func (s *Subscriber[T]) Close() error {
	return s.closer.close(func() error {
		s.closed.Store(true)
		s.svc.dyn.ReleasePort(layout.RoleSubscriber, s.slot)
		return s.svc.unref()
	})
}

// Sample is one received sample. It is a private copy of the payload and
// needs no release.
type Sample[T any] struct {
	buf      []byte
	numElems int
}

// Payload returns the first (for single-value services: the only) element.
func (s *Sample[T]) Payload() *T {
	return (*T)(unsafe.Pointer(&s.buf[0]))
}

// PayloadSlice returns all elements the sample carries.
func (s *Sample[T]) PayloadSlice() []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&s.buf[0])), s.numElems)
}

// Len returns the number of elements.
func (s *Sample[T]) Len() int {
	return s.numElems
}
