package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlackboardInitialValue(t *testing.T) {
	p := BlackboardParams{ValueSizes: []uint64{8, 1}}
	bb := MapBlackboard(region(BlackboardSize(p)), p)
	require.Equal(t, 2, bb.EntryCount())
	assert.Equal(t, uint64(8), bb.ValueSize(0))
	assert.Equal(t, uint64(1), bb.ValueSize(1))

	bb.InitValue(0, []byte{1, 0, 0, 0, 0, 0, 0, 0})

	dst := make([]byte, 8)
	gen := bb.ReadInto(0, dst)
	assert.Equal(t, uint64(0), gen, "initial value carries generation zero")
	assert.Equal(t, byte(1), dst[0])

	one := make([]byte, 1)
	assert.Equal(t, uint64(0), bb.ReadInto(1, one), "other entries are untouched")
	assert.Equal(t, byte(0), one[0])
}

func TestBlackboardPublish(t *testing.T) {
	p := BlackboardParams{ValueSizes: []uint64{8}}
	bb := MapBlackboard(region(BlackboardSize(p)), p)

	copy(bb.InactiveCell(0), []byte{2, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, uint64(1), bb.Publish(0))

	dst := make([]byte, 8)
	gen := bb.ReadInto(0, dst)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, byte(2), dst[0])
}

func TestBlackboardCellAlternation(t *testing.T) {
	// Consecutive publishes land on alternating cells; a reader always sees
	// the full latest value.
	p := BlackboardParams{ValueSizes: []uint64{16}}
	bb := MapBlackboard(region(BlackboardSize(p)), p)

	dst := make([]byte, 16)
	for i := byte(1); i <= 5; i++ {
		cell := bb.InactiveCell(0)
		for j := range cell {
			cell[j] = i
		}
		bb.Publish(0)

		gen := bb.ReadInto(0, dst)
		assert.Equal(t, uint64(i), gen)
		for _, b := range dst {
			require.Equal(t, i, b)
		}
	}
}

func TestBlackboardWriterLock(t *testing.T) {
	p := BlackboardParams{ValueSizes: []uint64{4, 4}}
	bb := MapBlackboard(region(BlackboardSize(p)), p)

	require.True(t, bb.TryLockWriter(0))
	assert.False(t, bb.TryLockWriter(0), "one mutable handle per key")
	assert.True(t, bb.TryLockWriter(1), "locks are per entry")

	bb.UnlockWriter(0)
	assert.True(t, bb.TryLockWriter(0))
}
