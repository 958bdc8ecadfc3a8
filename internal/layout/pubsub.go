package layout

import (
	"sync/atomic"
	"unsafe"
)

// The publish-subscribe region gives every subscriber a bounded sample ring
// and every publisher a small history ring for late joiners. Subscriber
// rings are multi-producer (several publishers may deliver concurrently),
// single-consumer; slots carry a sequence word in the style of a bounded
// MPMC queue so a consumer never observes a half-written sample. History
// rings are single-writer, read by subscribers at attach time.

// PubSubParams sizes the region.
type PubSubParams struct {
	MaxPublishers  uint32
	MaxSubscribers uint32
	BufferCap      uint32 // subscriber ring capacity
	HistoryCap     uint32 // per-publisher retained samples, may be 0
	SlotSize       uint64 // payload capacity per sample in bytes
}

type psSlotHeader struct {
	seq      uint64
	numElems uint64
}

const psSlotHeaderSize = 16

func (p PubSubParams) slotStride() uint64 {
	return psSlotHeaderSize + Align(p.SlotSize, 8)
}

type psRingHeader struct {
	head uint64
	tail uint64
}

func (p PubSubParams) subRingStride() uint64 {
	return AlignCacheLine(16 + uint64(p.BufferCap)*p.slotStride())
}

type psHistoryHeader struct {
	head uint64
}

func (p PubSubParams) historyStride() uint64 {
	return AlignCacheLine(8 + uint64(p.HistoryCap)*p.slotStride())
}

// PubSubSize returns the region size for the given parameters.
func PubSubSize(p PubSubParams) uint64 {
	return uint64(p.MaxSubscribers)*p.subRingStride() + uint64(p.MaxPublishers)*p.historyStride()
}

// PubSub is a view over the publish-subscribe region.
type PubSub struct {
	base    unsafe.Pointer
	p       PubSubParams
	histOff uint64
}

// MapPubSub builds the view.
func MapPubSub(base unsafe.Pointer, p PubSubParams) *PubSub {
	return &PubSub{
		base:    base,
		p:       p,
		histOff: uint64(p.MaxSubscribers) * p.subRingStride(),
	}
}

func (ps *PubSub) subRing(i uint32) *psRingHeader {
	return ptrAt[psRingHeader](ps.base, uint64(i)*ps.p.subRingStride())
}

func (ps *PubSub) subSlot(i uint32, idx uint64) (*psSlotHeader, []byte) {
	off := uint64(i)*ps.p.subRingStride() + 16 + (idx%uint64(ps.p.BufferCap))*ps.p.slotStride()
	return ptrAt[psSlotHeader](ps.base, off), sliceAt(ps.base, off+psSlotHeaderSize, ps.p.SlotSize)
}

// ResetSubRing prepares the ring of subscriber slot i for a fresh claimant:
// empty, with every slot's sequence primed for its first lap.
func (ps *PubSub) ResetSubRing(i uint32) {
	r := ps.subRing(i)
	atomic.StoreUint64(&r.head, 0)
	atomic.StoreUint64(&r.tail, 0)
	for s := uint64(0); s < uint64(ps.p.BufferCap); s++ {
		hdr, _ := ps.subSlot(i, s)
		atomic.StoreUint64(&hdr.seq, s)
	}
}

// Push delivers one sample into subscriber i's ring. With overflow enabled a
// full ring drops its oldest sample; otherwise Push reports false.
func (ps *PubSub) Push(i uint32, numElems uint64, data []byte, overflow bool) bool {
	r := ps.subRing(i)
	for {
		h := atomic.LoadUint64(&r.head)
		hdr, buf := ps.subSlot(i, h)
		if atomic.LoadUint64(&hdr.seq) != h {
			// Slot not yet freed for this lap: ring full or mid-operation.
			t := atomic.LoadUint64(&r.tail)
			if h-t < uint64(ps.p.BufferCap) {
				continue
			}
			if !overflow {
				return false
			}
			// Drop the oldest: consume slot t ourselves, racing fairly
			// with the subscriber.
			thdr, _ := ps.subSlot(i, t)
			if atomic.LoadUint64(&thdr.seq) == t+1 &&
				atomic.CompareAndSwapUint64(&r.tail, t, t+1) {
				atomic.StoreUint64(&thdr.seq, t+uint64(ps.p.BufferCap))
			}
			continue
		}
		if !atomic.CompareAndSwapUint64(&r.head, h, h+1) {
			continue
		}
		hdr.numElems = numElems
		copy(buf, data)
		atomic.StoreUint64(&hdr.seq, h+1)
		return true
	}
}

// Pop copies the oldest sample of subscriber i into dst. Only the owning
// subscriber calls this.
func (ps *PubSub) Pop(i uint32, dst []byte) (numElems uint64, ok bool) {
	r := ps.subRing(i)
	for {
		t := atomic.LoadUint64(&r.tail)
		hdr, buf := ps.subSlot(i, t)
		if atomic.LoadUint64(&hdr.seq) != t+1 {
			if atomic.LoadUint64(&r.tail) != t {
				continue
			}
			return 0, false
		}
		n := hdr.numElems
		copy(dst, buf)
		if atomic.CompareAndSwapUint64(&r.tail, t, t+1) {
			atomic.StoreUint64(&hdr.seq, t+uint64(ps.p.BufferCap))
			return n, true
		}
		// An overflowing publisher consumed slot t first; retry on the
		// next entry.
	}
}

// HasSamples reports whether subscriber i's ring holds a consumable sample.
func (ps *PubSub) HasSamples(i uint32) bool {
	r := ps.subRing(i)
	t := atomic.LoadUint64(&r.tail)
	hdr, _ := ps.subSlot(i, t)
	return atomic.LoadUint64(&hdr.seq) == t+1
}

func (ps *PubSub) histHeader(p uint32) *psHistoryHeader {
	return ptrAt[psHistoryHeader](ps.base, ps.histOff+uint64(p)*ps.p.historyStride())
}

func (ps *PubSub) histSlot(p uint32, idx uint64) (*psSlotHeader, []byte) {
	off := ps.histOff + uint64(p)*ps.p.historyStride() + 8 + (idx%uint64(ps.p.HistoryCap))*ps.p.slotStride()
	return ptrAt[psSlotHeader](ps.base, off), sliceAt(ps.base, off+psSlotHeaderSize, ps.p.SlotSize)
}

// ResetHistory clears the history ring of publisher slot p.
func (ps *PubSub) ResetHistory(p uint32) {
	if ps.p.HistoryCap == 0 {
		return
	}
	atomic.StoreUint64(&ps.histHeader(p).head, 0)
	for s := uint64(0); s < uint64(ps.p.HistoryCap); s++ {
		hdr, _ := ps.histSlot(p, s)
		atomic.StoreUint64(&hdr.seq, 0)
	}
}

// AppendHistory retains a sample in publisher p's history ring. Only the
// owning publisher writes its ring, so a plain overwrite with a sequence
// publication is enough.
func (ps *PubSub) AppendHistory(p uint32, numElems uint64, data []byte) {
	if ps.p.HistoryCap == 0 {
		return
	}
	hh := ps.histHeader(p)
	h := atomic.LoadUint64(&hh.head)
	hdr, buf := ps.histSlot(p, h)
	atomic.StoreUint64(&hdr.seq, 0) // invalidate while rewriting
	hdr.numElems = numElems
	copy(buf, data)
	atomic.StoreUint64(&hdr.seq, h+1)
	atomic.StoreUint64(&hh.head, h+1)
}

// ReadHistory reports publisher p's retained samples oldest-first. Samples
// rewritten mid-read are skipped.
func (ps *PubSub) ReadHistory(p uint32, fn func(numElems uint64, data []byte)) {
	if ps.p.HistoryCap == 0 {
		return
	}
	h := atomic.LoadUint64(&ps.histHeader(p).head)
	start := uint64(0)
	if h > uint64(ps.p.HistoryCap) {
		start = h - uint64(ps.p.HistoryCap)
	}
	buf := make([]byte, ps.p.SlotSize)
	for idx := start; idx < h; idx++ {
		hdr, data := ps.histSlot(p, idx)
		if atomic.LoadUint64(&hdr.seq) != idx+1 {
			continue
		}
		n := hdr.numElems
		copy(buf, data)
		if atomic.LoadUint64(&hdr.seq) != idx+1 {
			continue
		}
		fn(n, buf)
	}
}
