package warren

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
)

// WriterBuilder builds one writer port.
type WriterBuilder[K comparable] struct {
	f *BlackboardFactory[K]
}

// Create attaches the writer. Blackboards default to a single writer, so a
// second concurrent writer fails with ErrExceedsMaxSupportedWriters unless
// the service was created with more.
func (b *WriterBuilder[K]) Create() (*Writer[K], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	slot, ok := svc.dyn.ClaimPort(layout.RoleWriter, id, b.f.nodeID, 0, nil)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedWriters, svc.dyn.Capacity(layout.RoleWriter))
	}
	return &Writer[K]{svc: svc, id: id, slot: slot}, nil
}

// Writer is the mutating port on a blackboard service. Values are changed
// through per-entry mutable handles; the writer itself only gates who may
// obtain them.
type Writer[K comparable] struct {
	svc    *service
	id     [16]byte
	slot   uint32
	closed atomic.Bool
	closer portCloser
}

// ID returns the port's unique id.
func (w *Writer[K]) ID() string {
	return portIDString(w.id)
}

// Close detaches the port. Outstanding mutable handles stay usable; each
// still owns its per-entry lock until it is closed in turn.
func (w *Writer[K]) Close() error {
	return w.closer.close(func() error {
		w.closed.Store(true)
		w.svc.dyn.ReleasePort(layout.RoleWriter, w.slot)
		return w.svc.unref()
	})
}

// EntryMut obtains the mutable handle for the cell under key with value type
// V. At most one mutable handle per cell exists across all processes;
// a second request fails with ErrHandleAlreadyExists until the first handle
// is closed.
func EntryMut[V any, K comparable](w *Writer[K], key K) (*EntryHandleMut[V], error) {
	if w.closed.Load() {
		return nil, fmt.Errorf("%w: writer is closed", ErrPortClosed)
	}
	k := key
	idx, err := lookupEntry[V](w.svc, bytesOf(&k))
	if err != nil {
		return nil, err
	}
	if err := w.svc.ref(); err != nil {
		return nil, err
	}
	if !w.svc.bb.TryLockWriter(idx) {
		w.svc.unref()
		return nil, fmt.Errorf("%w: entry is already locked by a mutable handle", ErrHandleAlreadyExists)
	}
	return &EntryHandleMut[V]{svc: w.svc, idx: idx}, nil
}

// EntryHandleMut is the exclusive mutating handle for one cell. It writes
// either in one shot with UpdateWithCopy or in place through the
// LoanUninit/Write/Update chain; each chain step consumes its receiver and
// hands the exclusivity on to the returned object. The handle outlives the
// writer it came from.
type EntryHandleMut[V any] struct {
	svc  *service
	idx  int
	done atomic.Bool
}

// UpdateWithCopy writes value into the cell and publishes it. Readers see
// the new value under a fresh generation.
func (h *EntryHandleMut[V]) UpdateWithCopy(value V) error {
	if h.done.Load() {
		return fmt.Errorf("%w: entry handle was consumed or closed", ErrPortClosed)
	}
	v := value
	copy(h.svc.bb.InactiveCell(h.idx), bytesOf(&v))
	h.svc.bb.Publish(h.idx)
	return nil
}

// LoanUninit takes the cell's write buffer for in-place construction. The
// handle is consumed; the loan must be finished via Write and Update, or
// given back via Discard, to get a usable handle again.
func (h *EntryHandleMut[V]) LoanUninit() (*EntryValueUninit[V], error) {
	if h.done.Swap(true) {
		return nil, fmt.Errorf("%w: entry handle was consumed or closed", ErrPortClosed)
	}
	return &EntryValueUninit[V]{svc: h.svc, idx: h.idx}, nil
}

// Close releases the entry lock and the handle's reference. A handle that
// was consumed by LoanUninit is already spoken for and Close does nothing.
func (h *EntryHandleMut[V]) Close() error {
	if h.done.Swap(true) {
		return nil
	}
	h.svc.bb.UnlockWriter(h.idx)
	return h.svc.unref()
}

// EntryValueUninit is a loaned, not yet initialized write buffer for one
// cell. Nothing is visible to readers until Write and Update complete.
type EntryValueUninit[V any] struct {
	svc  *service
	idx  int
	done atomic.Bool
}

// Payload returns the buffer for in-place construction.
func (u *EntryValueUninit[V]) Payload() *V {
	cell := u.svc.bb.InactiveCell(u.idx)
	return (*V)(unsafe.Pointer(&cell[0]))
}

// Write fills the buffer with value and moves the loan to its initialized
// state. Readers still see the old value.
func (u *EntryValueUninit[V]) Write(value V) *EntryValue[V] {
	if u.done.Swap(true) {
		return nil
	}
	*u.Payload() = value
	return &EntryValue[V]{svc: u.svc, idx: u.idx}
}

// Discard gives the loan back untouched and returns a fresh mutable handle
// for the same cell. The entry lock never left this call chain.
func (u *EntryValueUninit[V]) Discard() *EntryHandleMut[V] {
	if u.done.Swap(true) {
		return nil
	}
	return &EntryHandleMut[V]{svc: u.svc, idx: u.idx}
}

// EntryValue is a written but not yet published loan.
type EntryValue[V any] struct {
	svc  *service
	idx  int
	done atomic.Bool
}

// Update publishes the written value and returns a fresh mutable handle.
// From here readers observe the new value under a fresh generation.
func (v *EntryValue[V]) Update() *EntryHandleMut[V] {
	if v.done.Swap(true) {
		return nil
	}
	v.svc.bb.Publish(v.idx)
	return &EntryHandleMut[V]{svc: v.svc, idx: v.idx}
}

// Discard drops the written value without publishing it and returns a fresh
// mutable handle. Readers never observe the discarded bytes.
func (v *EntryValue[V]) Discard() *EntryHandleMut[V] {
	if v.done.Swap(true) {
		return nil
	}
	return &EntryHandleMut[V]{svc: v.svc, idx: v.idx}
}
