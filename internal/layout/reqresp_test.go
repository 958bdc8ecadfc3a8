package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRR(p RRParams) *RR {
	r := MapRR(region(RRSize(p)), p)
	for s := uint32(0); s < p.MaxServers; s++ {
		r.Inbox(s).Reset()
	}
	return r
}

func TestConnLifecycle(t *testing.T) {
	p := RRParams{MaxConnections: 2, MaxServers: 1, InboxCap: 4, ResponseCap: 2, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, ok := rr.ClaimConn()
	require.True(t, ok)

	client := [16]byte{0xc1}
	copy(conn.RequestBuffer(), sample(7))
	conn.SetRequestElems(1)
	conn.PrepareRequest(99, client, 1)

	assert.Equal(t, uint64(99), conn.RequestID())
	assert.Equal(t, client, conn.ClientPort())
	assert.Equal(t, uint64(1), conn.RequestElems())
	assert.Equal(t, byte(7), conn.RequestBuffer()[0])
	assert.Equal(t, int32(1), conn.PeerCount())
	assert.Equal(t, uint32(1), conn.ServerConnections())
	assert.True(t, conn.ClientAlive())

	// The record can be reached back through its index, as a server popping
	// an inbox entry would.
	same := rr.ConnAt(conn.Index())
	assert.Equal(t, uint64(99), same.RequestID())

	// Server drops its references, client drops the last one.
	conn.DropPeer()
	assert.Equal(t, int32(0), conn.PeerCount())
	assert.False(t, conn.DropRef())
	assert.True(t, conn.DropRef(), "last reference owns recycling")
	conn.Free()

	_, ok = rr.ClaimConn()
	require.True(t, ok, "freed record returned to the pool")
}

func TestClaimConnExhaustion(t *testing.T) {
	p := RRParams{MaxConnections: 1, MaxServers: 1, InboxCap: 2, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, ok := rr.ClaimConn()
	require.True(t, ok)
	_, ok = rr.ClaimConn()
	assert.False(t, ok, "pool exhausted")

	conn.PrepareRequest(1, [16]byte{}, 0)
	require.True(t, conn.DropRef())
	conn.Free()

	_, ok = rr.ClaimConn()
	assert.True(t, ok)
}

func TestConnAddRef(t *testing.T) {
	p := RRParams{MaxConnections: 1, MaxServers: 1, InboxCap: 1, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, _ := rr.ClaimConn()
	conn.PrepareRequest(1, [16]byte{}, 1)

	// A loaned response handle pins the record beyond both endpoints.
	conn.AddRef()
	assert.False(t, conn.DropRef(), "server side")
	assert.False(t, conn.DropRef(), "client side")
	assert.True(t, conn.DropRef(), "loan releases last")
}

func TestConnHintsAndReset(t *testing.T) {
	p := RRParams{MaxConnections: 1, MaxServers: 1, InboxCap: 1, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, _ := rr.ClaimConn()
	conn.PrepareRequest(1, [16]byte{}, 1)

	assert.False(t, conn.ClientHint())
	assert.False(t, conn.ServerHint())
	conn.SetClientHint()
	conn.SetServerHint()
	assert.True(t, conn.ClientHint())
	assert.True(t, conn.ServerHint())

	conn.SetClientGone()
	assert.False(t, conn.ClientAlive())

	conn.SetServerConnections(0)
	assert.Equal(t, uint32(0), conn.ServerConnections())

	// Preparing the record again resets every flag for the next request.
	conn.PrepareRequest(2, [16]byte{}, 0)
	assert.False(t, conn.ClientHint())
	assert.False(t, conn.ServerHint())
	assert.True(t, conn.ClientAlive())
	assert.Equal(t, uint64(2), conn.RequestID())
}

func TestInbox(t *testing.T) {
	p := RRParams{MaxConnections: 4, MaxServers: 2, InboxCap: 2, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)
	ib := rr.Inbox(0)

	assert.False(t, ib.HasEntries())
	_, ok := ib.Pop()
	assert.False(t, ok)

	require.True(t, ib.Push(3))
	require.True(t, ib.Push(1))
	assert.False(t, ib.Push(2), "inbox full")
	assert.True(t, ib.HasEntries())

	idx, ok := ib.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(3), idx)
	idx, ok = ib.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(1), idx)
	_, ok = ib.Pop()
	assert.False(t, ok)

	assert.True(t, ib.Push(0), "popped capacity is reusable")
	assert.False(t, rr.Inbox(1).HasEntries(), "inboxes are per server")
}

func TestInboxReset(t *testing.T) {
	p := RRParams{MaxConnections: 2, MaxServers: 1, InboxCap: 2, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)
	ib := rr.Inbox(0)

	require.True(t, ib.Push(1))
	ib.Reset()

	assert.False(t, ib.HasEntries())
	require.True(t, ib.Push(0))
	idx, ok := ib.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)
}

func TestInboxSeal(t *testing.T) {
	p := RRParams{MaxConnections: 4, MaxServers: 1, InboxCap: 4, ResponseCap: 1, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)
	ib := rr.Inbox(0)

	require.True(t, ib.Push(0))
	ib.Seal()
	ib.Seal() // idempotent

	assert.False(t, ib.Push(1), "a sealed inbox refuses delivery")

	var drained []uint32
	ib.Drain(func(idx uint32) { drained = append(drained, idx) })
	assert.Equal(t, []uint32{0}, drained, "sealing does not lose entries already delivered")
	assert.False(t, ib.HasEntries())

	// The next occupant resets the slot, which also lifts the seal.
	ib.Reset()
	require.True(t, ib.Push(2), "reset reopens the inbox")
	idx, ok := ib.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(2), idx)
}

func TestResponseRing(t *testing.T) {
	p := RRParams{MaxConnections: 1, MaxServers: 1, InboxCap: 1, ResponseCap: 2, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, _ := rr.ClaimConn()
	conn.PrepareRequest(1, [16]byte{}, 1)

	server := [16]byte{0x5e}

	slot, ok := conn.ClaimResponse()
	require.True(t, ok)
	assert.False(t, conn.HasResponse(), "claimed but uncommitted is not consumable")

	copy(conn.ResponseBuffer(slot), sample(9))
	conn.CommitResponse(slot, server, 1)
	assert.True(t, conn.HasResponse())

	dst := make([]byte, 8)
	origin, n, ok := conn.PopResponse(dst)
	require.True(t, ok)
	assert.Equal(t, server, origin)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, byte(9), dst[0])

	_, _, ok = conn.PopResponse(dst)
	assert.False(t, ok)
	assert.False(t, conn.HasResponse())
}

func TestResponseRingFullAndAbandon(t *testing.T) {
	p := RRParams{MaxConnections: 1, MaxServers: 1, InboxCap: 1, ResponseCap: 2, RequestSize: 8, ResponseSize: 8}
	rr := newRR(p)

	conn, _ := rr.ClaimConn()
	conn.PrepareRequest(1, [16]byte{}, 1)

	s1, ok := conn.ClaimResponse()
	require.True(t, ok)
	s2, ok := conn.ClaimResponse()
	require.True(t, ok)
	_, ok = conn.ClaimResponse()
	assert.False(t, ok, "ring full while slots are claimed")

	conn.AbandonResponse(s1)
	conn.CommitResponse(s2, [16]byte{1}, 1)

	dst := make([]byte, 8)
	_, n, ok := conn.PopResponse(dst)
	require.True(t, ok, "abandoned slot is skipped")
	assert.Equal(t, uint64(1), n)

	_, ok = conn.ClaimResponse()
	assert.True(t, ok, "popping frees ring capacity")
}
