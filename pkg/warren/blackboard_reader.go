package warren

import (
	"fmt"
	"sync/atomic"

	"github.com/dyluth/warren/internal/layout"
)

// ReaderBuilder builds one reader port.
type ReaderBuilder[K comparable] struct {
	f *BlackboardFactory[K]
}

// Create attaches the reader. It fails with ErrExceedsMaxSupportedReaders
// when every reader slot of the service is taken.
func (b *ReaderBuilder[K]) Create() (*Reader[K], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	slot, ok := svc.dyn.ClaimPort(layout.RoleReader, id, b.f.nodeID, 0, nil)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedReaders, svc.dyn.Capacity(layout.RoleReader))
	}
	return &Reader[K]{svc: svc, id: id, slot: slot}, nil
}

// Reader is a reading port on a blackboard service. Entry handles obtained
// through it carry their own references and survive the reader's Close.
type Reader[K comparable] struct {
	svc    *service
	id     [16]byte
	slot   uint32
	closed atomic.Bool
	closer portCloser
}

// ID returns the port's unique id.
func (r *Reader[K]) ID() string {
	return portIDString(r.id)
}

// Close detaches the port.
func (r *Reader[K]) Close() error {
	return r.closer.close(func() error {
		r.closed.Store(true)
		r.svc.dyn.ReleasePort(layout.RoleReader, r.slot)
		return r.svc.unref()
	})
}

// lookupEntry resolves a key against the schema and checks the value type.
// Both a missing key and a value type mismatch report the same error: from
// the caller's point of view, the entry they described does not exist.
func lookupEntry[V any](svc *service, keyBytes []byte) (int, error) {
	vd, err := TypeDetailOf[V]()
	if err != nil {
		return 0, err
	}
	idx, ok := svc.schema.lookup(keyBytes)
	if !ok {
		return 0, fmt.Errorf("%w: no such key", ErrEntryDoesNotExist)
	}
	if stored := svc.schema.entries[idx].ValueType; !stored.Matches(vd) {
		return 0, fmt.Errorf("%w: entry holds %s, caller wants %s", ErrEntryDoesNotExist, stored, vd)
	}
	return idx, nil
}

// Entry obtains a read handle for the cell under key with value type V. Any
// number of read handles may exist for the same cell at once.
func Entry[V any, K comparable](r *Reader[K], key K) (*EntryHandle[V], error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%w: reader is closed", ErrPortClosed)
	}
	k := key
	idx, err := lookupEntry[V](r.svc, bytesOf(&k))
	if err != nil {
		return nil, err
	}
	if err := r.svc.ref(); err != nil {
		return nil, err
	}
	return &EntryHandle[V]{svc: r.svc, idx: idx}, nil
}

// EntryHandle reads one blackboard cell. It stays valid after the reader,
// the factory and even the creating node are gone; only Close ends it.
type EntryHandle[V any] struct {
	svc    *service
	idx    int
	closer portCloser
}

// Get returns a copy of the cell's current value.
func (h *EntryHandle[V]) Get() V {
	var v V
	h.svc.bb.ReadInto(h.idx, bytesOf(&v))
	return v
}

// GetWithGeneration returns a copy of the current value together with the
// generation it belongs to, for later IsUpToDate checks.
func (h *EntryHandle[V]) GetWithGeneration() (V, uint64) {
	var v V
	gen := h.svc.bb.ReadInto(h.idx, bytesOf(&v))
	return v, gen
}

// IsUpToDate reports whether a value read at the given generation is still
// the newest one. A true result may be outdated by the time the caller acts
// on it; a false result is always final, since generations never go back.
func (h *EntryHandle[V]) IsUpToDate(generation uint64) bool {
	return h.svc.bb.Generation(h.idx) == generation
}

// Close releases the handle's reference. The handle must not be used
// afterwards.
func (h *EntryHandle[V]) Close() error {
	return h.closer.close(func() error {
		return h.svc.unref()
	})
}
