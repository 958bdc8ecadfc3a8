package warren

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
)

// PublisherBuilder builds one publisher port.
type PublisherBuilder[T any] struct {
	f *PublishSubscribeFactory[T]
}

// Create attaches the publisher. It fails with
// ErrExceedsMaxSupportedPublishers when every publisher slot is taken.
func (b *PublisherBuilder[T]) Create() (*Publisher[T], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	// History is cleared inside the claim so a subscriber attaching at the
	// same moment never replays a half-reset ring.
	slot, ok := svc.dyn.ClaimPort(layout.RolePublisher, id, b.f.nodeID, 0, svc.ps.ResetHistory)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedPublishers, svc.dyn.Capacity(layout.RolePublisher))
	}
	pc := svc.static.PublishSubscribe
	elem := pc.PayloadType.Size
	return &Publisher[T]{
		svc:      svc,
		id:       id,
		slot:     slot,
		elemSize: elem,
		maxSlice: pc.MaxSliceLen,
		overflow: pc.EnableSafeOverflow,
	}, nil
}

// Publisher sends samples to every subscriber of the service. Each send
// also lands in the publisher's history, which late joining subscribers
// replay on attach.
type Publisher[T any] struct {
	svc      *service
	id       [16]byte
	slot     uint32
	elemSize uint64
	maxSlice uint32
	overflow bool
	closed   atomic.Bool
	closer   portCloser
}

// ID returns the port's unique id.
func (p *Publisher[T]) ID() string {
	return portIDString(p.id)
}

// SendCopy delivers one value. It returns how many subscribers received it.
func (p *Publisher[T]) SendCopy(value T) (int, error) {
	v := value
	return p.deliver(1, bytesOf(&v))
}

// LoanUninit borrows a sample buffer for in-place construction of a single
// value. Nothing is delivered until Send.
func (p *Publisher[T]) LoanUninit() (*SampleMut[T], error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: publisher is closed", ErrPortClosed)
	}
	return &SampleMut[T]{pub: p, buf: alignedBytes(p.elemSize), numElems: 1}, nil
}

// LoanSlice borrows a sample buffer for n elements. It fails with
// ErrExceedsMaxLoanSize when n exceeds the service's slice length.
func (p *Publisher[T]) LoanSlice(n int) (*SampleMut[T], error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: publisher is closed", ErrPortClosed)
	}
	if n < 1 || uint32(n) > p.maxSlice {
		return nil, fmt.Errorf("%w: %d elements requested, service allows %d per sample", ErrExceedsMaxLoanSize, n, p.maxSlice)
	}
	return &SampleMut[T]{pub: p, buf: alignedBytes(uint64(n) * p.elemSize), numElems: n}, nil
}

// deliver pushes the sample into every attached subscriber's buffer and
// appends it to this publisher's history. With safe overflow off, full
// buffers fail the send; the remaining subscribers still receive it.
func (p *Publisher[T]) deliver(numElems uint64, data []byte) (int, error) {
	if p.closed.Load() {
		return 0, fmt.Errorf("%w: publisher is closed", ErrPortClosed)
	}
	delivered, full := 0, 0
	caps := p.svc.dyn.Capacity(layout.RoleSubscriber)
	for i := uint32(0); i < caps; i++ {
		if _, ok := p.svc.dyn.PortAt(layout.RoleSubscriber, i); !ok {
			continue
		}
		if p.svc.ps.Push(i, numElems, data, p.overflow) {
			delivered++
		} else {
			full++
		}
	}
	p.svc.ps.AppendHistory(p.slot, numElems, data)
	if full > 0 {
		return delivered, fmt.Errorf("%w: %d subscribers had no room", ErrBufferFull, full)
	}
	return delivered, nil
}

// Close detaches the port. The history it wrote stays readable until the
// slot is reused by a new publisher.
func (p *Publisher[T]) Close() error {
	return p.closer.close(func() error {
		p.closed.Store(true)
		p.svc.dyn.ReleasePort(layout.RolePublisher, p.slot)
		return p.svc.unref()
	})
}

// SampleMut is a loaned sample under construction. Send consumes it.
type SampleMut[T any] struct {
	pub      *Publisher[T]
	buf      []byte
	numElems int
	done     atomic.Bool
}

// Payload returns the first (for single loans: the only) element for
// in-place construction.
func (s *SampleMut[T]) Payload() *T {
	return (*T)(unsafe.Pointer(&s.buf[0]))
}

// PayloadSlice returns all loaned elements.
func (s *SampleMut[T]) PayloadSlice() []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&s.buf[0])), s.numElems)
}

// Send delivers the constructed sample. It returns how many subscribers
// received it.
func (s *SampleMut[T]) Send() (int, error) {
	if s.done.Swap(true) {
		return 0, fmt.Errorf("%w: sample was already sent or discarded", ErrPortClosed)
	}
	return s.pub.deliver(uint64(s.numElems), s.buf)
}

// Discard drops the loan without sending.
func (s *SampleMut[T]) Discard() {
	s.done.Store(true)
}
