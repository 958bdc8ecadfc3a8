package layout

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Magic identifies a warren segment file.
const Magic = "WRNSEG01"

// Version is the layout version understood by this build. Segments carrying
// a different version are rejected on open.
const Version uint32 = 1

// Lifecycle states of a segment.
const (
	StateActive      uint32 = 1
	StateTearingDown uint32 = 2
)

// HeaderSize is the fixed size reserved for SegmentHeader at offset 0.
const HeaderSize = 128

// SegmentHeader sits at the start of every segment. The reference count is
// the distributed lifetime of the service: every factory handle and every
// port, in any process, holds exactly one reference. Whoever releases the
// last one flips the state to tearing-down and removes the backing files.
type SegmentHeader struct {
	magic      [8]byte
	version    uint32
	pattern    uint32
	serviceID  [16]byte
	state      uint32
	_          uint32
	refCount   uint64
	totalSize  uint64
	dynOff     uint64
	patternOff uint64
	_          [56]byte
}

// MapHeader interprets the start of a mapped segment as its header.
func MapHeader(base unsafe.Pointer) *SegmentHeader {
	return (*SegmentHeader)(base)
}

// InitHeader writes a fresh header for a newly created segment. The creator
// starts with one reference (its own factory handle).
func InitHeader(base unsafe.Pointer, pattern uint32, serviceID [16]byte, totalSize, dynOff, patternOff uint64) *SegmentHeader {
	h := MapHeader(base)
	copy(h.magic[:], Magic)
	h.version = Version
	h.pattern = pattern
	h.serviceID = serviceID
	h.totalSize = totalSize
	h.dynOff = dynOff
	h.patternOff = patternOff
	atomic.StoreUint64(&h.refCount, 1)
	atomic.StoreUint32(&h.state, StateActive)
	return h
}

// Validate checks that a mapped segment is a warren segment of the expected
// identity, pattern and size.
func (h *SegmentHeader) Validate(pattern uint32, serviceID [16]byte, totalSize uint64) error {
	if string(h.magic[:]) != Magic {
		return fmt.Errorf("bad segment magic %q", h.magic)
	}
	if h.version != Version {
		return fmt.Errorf("unsupported segment layout version %d (want %d)", h.version, Version)
	}
	if h.pattern != pattern {
		return fmt.Errorf("segment pattern %d does not match descriptor pattern %d", h.pattern, pattern)
	}
	if h.serviceID != serviceID {
		return fmt.Errorf("segment service id does not match descriptor")
	}
	if h.totalSize != totalSize {
		return fmt.Errorf("segment size %d does not match computed layout size %d", h.totalSize, totalSize)
	}
	return nil
}

// DynOff returns the offset of the dynamic config region.
func (h *SegmentHeader) DynOff() uint64 { return h.dynOff }

// PatternOff returns the offset of the pattern-specific region.
func (h *SegmentHeader) PatternOff() uint64 { return h.patternOff }

// Pattern returns the messaging pattern stored at creation.
func (h *SegmentHeader) Pattern() uint32 { return h.pattern }

// ServiceID returns the id stored at creation.
func (h *SegmentHeader) ServiceID() [16]byte { return h.serviceID }

// State returns the current lifecycle state.
func (h *SegmentHeader) State() uint32 {
	return atomic.LoadUint32(&h.state)
}

// RefCount returns the current reference count.
func (h *SegmentHeader) RefCount() uint64 {
	return atomic.LoadUint64(&h.refCount)
}

// AcquireRef takes one reference. It fails once the count has reached zero
// or teardown has begun; a dying service cannot be re-entered.
func (h *SegmentHeader) AcquireRef() bool {
	for {
		if atomic.LoadUint32(&h.state) != StateActive {
			return false
		}
		c := atomic.LoadUint64(&h.refCount)
		if c == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&h.refCount, c, c+1) {
			return true
		}
	}
}

// ReleaseRef drops one reference. It returns true exactly once, for the
// caller that moved the count to zero; that caller owns teardown.
func (h *SegmentHeader) ReleaseRef() bool {
	if atomic.AddUint64(&h.refCount, ^uint64(0)) != 0 {
		return false
	}
	return atomic.CompareAndSwapUint32(&h.state, StateActive, StateTearingDown)
}
