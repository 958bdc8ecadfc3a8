package layout

import (
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// The event region gives every listener a signal word (the futex the
// listener sleeps on) and a bitset of pending event ids. A notifier sets
// the id's bit in every registered listener's set and bumps the signal.
// Listener slots are addressed by the listener's dynamic-config slot index,
// so registration and signal storage cannot drift apart.

// EventParams sizes the region.
type EventParams struct {
	MaxListeners uint32
	Words        uint32 // bitset words per listener, covering event_id_max_value+1 bits
}

// EventWords returns the bitset word count needed for ids 0..maxID.
func EventWords(maxID uint64) uint32 {
	return uint32((maxID + 64) / 64)
}

type evSlotHeader struct {
	signal uint32
	_      uint32
}

func evSlotSize(words uint32) uint64 {
	return AlignCacheLine(8 + uint64(words)*8)
}

// EventSize returns the region size for the given parameters.
func EventSize(p EventParams) uint64 {
	return uint64(p.MaxListeners) * evSlotSize(p.Words)
}

// Event is a view over the listener signal table.
type Event struct {
	base  unsafe.Pointer
	words uint32
	slots uint32
}

// MapEvent builds the view.
func MapEvent(base unsafe.Pointer, p EventParams) *Event {
	return &Event{base: base, words: p.Words, slots: p.MaxListeners}
}

func (e *Event) slot(i uint32) *evSlotHeader {
	return ptrAt[evSlotHeader](e.base, uint64(i)*evSlotSize(e.words))
}

func (e *Event) word(i, w uint32) *uint64 {
	off := uint64(i)*evSlotSize(e.words) + 8 + uint64(w)*8
	return ptrAt[uint64](e.base, off)
}

// ResetSlot clears the bitset of slot i. A listener claiming the slot calls
// this before publishing its registration, so leftovers of a previous
// occupant never surface as events.
func (e *Event) ResetSlot(i uint32) {
	for w := uint32(0); w < e.words; w++ {
		atomic.StoreUint64(e.word(i, w), 0)
	}
}

// Signal returns the futex word of slot i.
func (e *Event) Signal(i uint32) *uint32 {
	return &e.slot(i).signal
}

// SignalValue returns the current signal counter of slot i.
func (e *Event) SignalValue(i uint32) uint32 {
	return atomic.LoadUint32(&e.slot(i).signal)
}

// Post sets event id's bit in slot i and bumps the signal word. The caller
// wakes the futex afterwards.
func (e *Event) Post(i uint32, id uint64) {
	atomic.OrUint64(e.word(i, uint32(id/64)), 1<<(id%64))
	atomic.AddUint32(&e.slot(i).signal, 1)
}

// Collect drains the pending ids of slot i in ascending order, invoking fn
// once per id. Each id is reported once per drain; ids posted while
// collecting are picked up by the next call.
func (e *Event) Collect(i uint32, fn func(id uint64)) {
	for w := uint32(0); w < e.words; w++ {
		v := atomic.SwapUint64(e.word(i, w), 0)
		for v != 0 {
			bit := bits.TrailingZeros64(v)
			fn(uint64(w)*64 + uint64(bit))
			v &^= 1 << bit
		}
	}
}
