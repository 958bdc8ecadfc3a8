package layout

import (
	"sync/atomic"
	"unsafe"
)

// The blackboard region is a table of double-buffered value cells, one pair
// per schema key. The generation word is both the publication barrier and
// the staleness token: the active cell is generation&1, a writer fills the
// inactive cell and publishes by storing generation+1, and a reader copies
// the active cell and re-checks the generation, retrying when it moved.
// The writer lock word enforces the one-outstanding-mutable-handle rule per
// key across all processes.

// BlackboardParams sizes the region: the value payload size of each schema
// entry, in schema order.
type BlackboardParams struct {
	ValueSizes []uint64
}

type bbEntryHeader struct {
	writerLock uint32
	_          uint32
	generation uint64
}

const bbEntryHeaderSize = 16

func bbEntrySize(valueSize uint64) uint64 {
	return AlignCacheLine(bbEntryHeaderSize + 2*Align(valueSize, 8))
}

// BlackboardSize returns the region size for the given schema.
func BlackboardSize(p BlackboardParams) uint64 {
	var size uint64
	for _, vs := range p.ValueSizes {
		size += bbEntrySize(vs)
	}
	return size
}

// Blackboard is a view over the entry table of a mapped segment.
type Blackboard struct {
	base    unsafe.Pointer
	offsets []uint64
	sizes   []uint64
}

// MapBlackboard builds the view. The offsets derive purely from the schema,
// so every process attached to the same service computes the same table.
func MapBlackboard(base unsafe.Pointer, p BlackboardParams) *Blackboard {
	b := &Blackboard{
		base:    base,
		offsets: make([]uint64, len(p.ValueSizes)),
		sizes:   make([]uint64, len(p.ValueSizes)),
	}
	var off uint64
	for i, vs := range p.ValueSizes {
		b.offsets[i] = off
		b.sizes[i] = vs
		off += bbEntrySize(vs)
	}
	return b
}

func (b *Blackboard) entry(i int) *bbEntryHeader {
	return ptrAt[bbEntryHeader](b.base, b.offsets[i])
}

func (b *Blackboard) cell(i int, which uint64) []byte {
	stride := Align(b.sizes[i], 8)
	off := b.offsets[i] + bbEntryHeaderSize + which*stride
	return sliceAt(b.base, off, b.sizes[i])
}

// EntryCount returns the number of schema entries.
func (b *Blackboard) EntryCount() int { return len(b.offsets) }

// ValueSize returns the payload size of entry i.
func (b *Blackboard) ValueSize(i int) uint64 { return b.sizes[i] }

// InitValue writes the creation-time value of entry i into the active cell.
// Only the creator calls this, before the service is published; generation
// stays 0 so the first reader sees the initial value as generation 0.
func (b *Blackboard) InitValue(i int, data []byte) {
	copy(b.cell(i, 0), data)
}

// TryLockWriter claims the mutable-handle lock of entry i.
func (b *Blackboard) TryLockWriter(i int) bool {
	return atomic.CompareAndSwapUint32(&b.entry(i).writerLock, 0, 1)
}

// UnlockWriter releases the mutable-handle lock of entry i.
func (b *Blackboard) UnlockWriter(i int) {
	atomic.StoreUint32(&b.entry(i).writerLock, 0)
}

// Generation returns the current generation of entry i.
func (b *Blackboard) Generation(i int) uint64 {
	return atomic.LoadUint64(&b.entry(i).generation)
}

// InactiveCell returns the write target of entry i. Only the holder of the
// writer lock may touch it; readers never look at the inactive cell.
func (b *Blackboard) InactiveCell(i int) []byte {
	gen := atomic.LoadUint64(&b.entry(i).generation)
	return b.cell(i, (gen+1)&1)
}

// Publish flips entry i to its freshly written cell and returns the new
// generation. The atomic store orders the cell writes before the visibility
// of the new generation.
func (b *Blackboard) Publish(i int) uint64 {
	e := b.entry(i)
	gen := atomic.LoadUint64(&e.generation) + 1
	atomic.StoreUint64(&e.generation, gen)
	return gen
}

// ReadInto copies the current value of entry i into dst and returns the
// generation it belongs to. Retries when the writer flipped cells mid-copy;
// with a finite write rate the copy wins in a bounded number of rounds.
func (b *Blackboard) ReadInto(i int, dst []byte) uint64 {
	e := b.entry(i)
	for {
		g1 := atomic.LoadUint64(&e.generation)
		copy(dst, b.cell(i, g1&1))
		g2 := atomic.LoadUint64(&e.generation)
		if g1 == g2 {
			return g1
		}
	}
}
