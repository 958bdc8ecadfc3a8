// Package layout defines the fixed binary structures living inside a warren
// segment and typed views over them. Every process attached to a service
// computes the same offsets from the same static configuration, then reads
// and writes the shared region exclusively through the atomic accessors
// here.
//
// Layout of a segment:
//
//	SegmentHeader | dynamic config (node + port slots) | pattern region
//
// The pattern region is one of: blackboard entry table, request-response
// connection pool, event listener signal table, or publish-subscribe
// subscriber rings. All slot arrays start cache-line aligned and all words
// touched by more than one process are 4- or 8-byte aligned for sync/atomic.
package layout

import "unsafe"

const (
	// CacheLine separates independently written slots.
	CacheLine = 64

	// SlotFree, SlotClaiming and SlotBusy are the states of every shared
	// slot. Claiming covers the window between winning the CAS and
	// publishing the slot's payload fields.
	SlotFree     uint32 = 0
	SlotClaiming uint32 = 1
	SlotBusy     uint32 = 2
)

// Align rounds n up to the next multiple of a (a must be a power of two).
func Align(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

// AlignCacheLine rounds n up to the next cache line boundary.
func AlignCacheLine(n uint64) uint64 {
	return Align(n, CacheLine)
}

func ptrAt[T any](base unsafe.Pointer, off uint64) *T {
	return (*T)(unsafe.Add(base, uintptr(off)))
}

func sliceAt(base unsafe.Pointer, off, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(base, uintptr(off))), int(n))
}
