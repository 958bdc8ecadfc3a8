package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventWords(t *testing.T) {
	assert.Equal(t, uint32(1), EventWords(0))
	assert.Equal(t, uint32(1), EventWords(63))
	assert.Equal(t, uint32(2), EventWords(64))
	assert.Equal(t, uint32(2), EventWords(127))
	assert.Equal(t, uint32(4), EventWords(255))
}

func TestEventPostAndCollect(t *testing.T) {
	p := EventParams{MaxListeners: 2, Words: 2}
	ev := MapEvent(region(EventSize(p)), p)

	ev.Post(0, 3)
	ev.Post(0, 3)
	ev.Post(0, 127)
	ev.Post(1, 5)

	var got []uint64
	ev.Collect(0, func(id uint64) { got = append(got, id) })
	assert.Equal(t, []uint64{3, 127}, got, "ascending order, duplicates coalesced")

	got = nil
	ev.Collect(0, func(id uint64) { got = append(got, id) })
	assert.Empty(t, got, "collect drains the set")

	got = nil
	ev.Collect(1, func(id uint64) { got = append(got, id) })
	assert.Equal(t, []uint64{5}, got, "listener slots are independent")
}

func TestEventSignalCounter(t *testing.T) {
	p := EventParams{MaxListeners: 1, Words: 1}
	ev := MapEvent(region(EventSize(p)), p)

	before := ev.SignalValue(0)
	ev.Post(0, 0)
	ev.Post(0, 1)
	assert.Equal(t, before+2, ev.SignalValue(0), "every post bumps the signal word")
}

func TestEventResetSlot(t *testing.T) {
	p := EventParams{MaxListeners: 1, Words: 1}
	ev := MapEvent(region(EventSize(p)), p)

	ev.Post(0, 7)
	ev.ResetSlot(0)

	var got []uint64
	ev.Collect(0, func(id uint64) { got = append(got, id) })
	assert.Empty(t, got, "a fresh claimant never sees a previous occupant's ids")
}
