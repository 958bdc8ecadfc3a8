package layout

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// The request-response region holds a pool of connection records and one
// inbox ring per server. A connection record is the shared state of one
// in-flight request: the request payload, liveness counters tying the
// client-side pending response to the server-side active requests, both
// disconnect hints, and the bounded response ring the servers feed.
//
// The record is kept alive by a live counter covering the client (1), every
// undelivered inbox reference, and every active request object; whichever
// side drops the counter to zero recycles the record.

// RRParams sizes the region.
type RRParams struct {
	MaxConnections uint32 // connection record pool size
	MaxServers     uint32
	InboxCap       uint32 // per-server inbox ring capacity
	ResponseCap    uint32 // response ring slots per connection
	RequestSize    uint64 // request payload capacity in bytes
	ResponseSize   uint64 // response payload capacity in bytes
}

type connHeader struct {
	state       uint32
	_           uint32
	requestID   uint64
	clientPort  [16]byte
	live        int32
	peerCount   int32
	clientAlive uint32
	clientHint  uint32
	serverHint  uint32
	serverConns uint32
	respHead    uint64
	respTail    uint64
}

const connHeaderSize = 80

type reqSlotHeader struct {
	numElems uint64
}

// Response slot states.
const (
	respSlotPending uint32 = 0 // claimed, payload still being written
	respSlotLive    uint32 = 1
	respSlotDropped uint32 = 2 // claimed then discarded, consumer skips it
)

type respSlotHeader struct {
	state      uint32
	_          uint32
	serverPort [16]byte
	numElems   uint64
}

const respSlotHeaderSize = 32

func (p RRParams) reqSlotSize() uint64 {
	return 8 + Align(p.RequestSize, 8)
}

func (p RRParams) respSlotSize() uint64 {
	return respSlotHeaderSize + Align(p.ResponseSize, 8)
}

func (p RRParams) connStride() uint64 {
	return AlignCacheLine(connHeaderSize + p.reqSlotSize() + uint64(p.ResponseCap)*p.respSlotSize())
}

type inboxHeader struct {
	head uint64
	tail uint64
}

func (p RRParams) inboxStride() uint64 {
	return AlignCacheLine(16 + uint64(p.InboxCap)*4)
}

// RRSize returns the region size for the given parameters.
func RRSize(p RRParams) uint64 {
	return uint64(p.MaxConnections)*p.connStride() + uint64(p.MaxServers)*p.inboxStride()
}

// RR is a view over the request-response region.
type RR struct {
	base     unsafe.Pointer
	p        RRParams
	inboxOff uint64
}

// MapRR builds the view.
func MapRR(base unsafe.Pointer, p RRParams) *RR {
	return &RR{
		base:     base,
		p:        p,
		inboxOff: uint64(p.MaxConnections) * p.connStride(),
	}
}

// Conn is a view over one connection record.
type Conn struct {
	r   *RR
	idx uint32
	hdr *connHeader
}

func (r *RR) connOff(i uint32) uint64 {
	return uint64(i) * r.p.connStride()
}

// ClaimConn takes a free connection record. The record is private to the
// claimant until PublishRequest.
func (r *RR) ClaimConn() (*Conn, bool) {
	for i := uint32(0); i < r.p.MaxConnections; i++ {
		hdr := ptrAt[connHeader](r.base, r.connOff(i))
		if atomic.CompareAndSwapUint32(&hdr.state, SlotFree, SlotClaiming) {
			return &Conn{r: r, idx: i, hdr: hdr}, true
		}
	}
	return nil, false
}

// ConnAt returns the view for a record index taken from an inbox.
func (r *RR) ConnAt(i uint32) *Conn {
	return &Conn{r: r, idx: i, hdr: ptrAt[connHeader](r.base, r.connOff(i))}
}

// Index returns the pool index of this record.
func (c *Conn) Index() uint32 { return c.idx }

// PrepareRequest initializes a claimed record for one request delivered to
// servers peers. live covers the client plus every inbox reference.
func (c *Conn) PrepareRequest(requestID uint64, clientPort [16]byte, peers uint32) {
	c.hdr.requestID = requestID
	c.hdr.clientPort = clientPort
	atomic.StoreInt32(&c.hdr.live, int32(1+peers))
	atomic.StoreInt32(&c.hdr.peerCount, int32(peers))
	atomic.StoreUint32(&c.hdr.clientAlive, 1)
	atomic.StoreUint32(&c.hdr.clientHint, 0)
	atomic.StoreUint32(&c.hdr.serverHint, 0)
	atomic.StoreUint32(&c.hdr.serverConns, peers)
	atomic.StoreUint64(&c.hdr.respHead, 0)
	atomic.StoreUint64(&c.hdr.respTail, 0)
	for i := uint32(0); i < c.r.p.ResponseCap; i++ {
		atomic.StoreUint32(&c.respSlot(i).state, respSlotPending)
	}
	atomic.StoreUint32(&c.hdr.state, SlotBusy)
}

// RequestID returns the id assigned by the sending client.
func (c *Conn) RequestID() uint64 { return c.hdr.requestID }

// ClientPort returns the id of the client port that sent the request.
func (c *Conn) ClientPort() [16]byte { return c.hdr.clientPort }

// RequestBuffer returns the request payload slot. The client writes it
// before publishing; servers treat it as read-only afterwards.
func (c *Conn) RequestBuffer() []byte {
	off := c.r.connOff(c.idx) + connHeaderSize + 8
	return sliceAt(c.r.base, off, c.r.p.RequestSize)
}

// SetRequestElems records how many payload elements the request carries.
func (c *Conn) SetRequestElems(n uint64) {
	ptrAt[reqSlotHeader](c.r.base, c.r.connOff(c.idx)+connHeaderSize).numElems = n
}

// RequestElems returns the element count of the request payload.
func (c *Conn) RequestElems() uint64 {
	return ptrAt[reqSlotHeader](c.r.base, c.r.connOff(c.idx)+connHeaderSize).numElems
}

// PeerCount returns the number of live server-side references (undelivered
// inbox entries plus active request objects).
func (c *Conn) PeerCount() int32 {
	return atomic.LoadInt32(&c.hdr.peerCount)
}

// DropPeer removes one server-side reference.
func (c *Conn) DropPeer() {
	atomic.AddInt32(&c.hdr.peerCount, -1)
}

// ServerConnections returns how many servers the request was delivered to.
func (c *Conn) ServerConnections() uint32 {
	return atomic.LoadUint32(&c.hdr.serverConns)
}

// SetServerConnections corrects the delivered count when some deliveries
// failed after PrepareRequest.
func (c *Conn) SetServerConnections(n uint32) {
	atomic.StoreUint32(&c.hdr.serverConns, n)
}

// ClientAlive reports whether the pending response still exists.
func (c *Conn) ClientAlive() bool {
	return atomic.LoadUint32(&c.hdr.clientAlive) == 1
}

// SetClientGone marks the pending response as destroyed.
func (c *Conn) SetClientGone() {
	atomic.StoreUint32(&c.hdr.clientAlive, 0)
}

// SetClientHint raises the client-side disconnect hint.
func (c *Conn) SetClientHint() {
	atomic.StoreUint32(&c.hdr.clientHint, 1)
}

// ClientHint reads the client-side disconnect hint.
func (c *Conn) ClientHint() bool {
	return atomic.LoadUint32(&c.hdr.clientHint) == 1
}

// SetServerHint raises the server-side disconnect hint.
func (c *Conn) SetServerHint() {
	atomic.StoreUint32(&c.hdr.serverHint, 1)
}

// ServerHint reads the server-side disconnect hint.
func (c *Conn) ServerHint() bool {
	return atomic.LoadUint32(&c.hdr.serverHint) == 1
}

// AddRef takes one extra liveness reference. Only a holder of a live
// reference may call this; the record cannot be recycled under them.
func (c *Conn) AddRef() {
	atomic.AddInt32(&c.hdr.live, 1)
}

// DropRef releases one liveness reference. The caller that gets true owns
// recycling and must call Free.
func (c *Conn) DropRef() bool {
	return atomic.AddInt32(&c.hdr.live, -1) == 0
}

// Free returns the record to the pool.
func (c *Conn) Free() {
	atomic.StoreUint32(&c.hdr.state, SlotFree)
}

func (c *Conn) respSlot(i uint32) *respSlotHeader {
	off := c.r.connOff(c.idx) + connHeaderSize + c.r.p.reqSlotSize() + uint64(i)*c.r.p.respSlotSize()
	return ptrAt[respSlotHeader](c.r.base, off)
}

func (c *Conn) respData(i uint32) []byte {
	off := c.r.connOff(c.idx) + connHeaderSize + c.r.p.reqSlotSize() + uint64(i)*c.r.p.respSlotSize() + respSlotHeaderSize
	return sliceAt(c.r.base, off, c.r.p.ResponseSize)
}

// ClaimResponse reserves one response ring slot for in-place construction.
// It fails when the ring is full.
func (c *Conn) ClaimResponse() (uint32, bool) {
	for {
		h := atomic.LoadUint64(&c.hdr.respHead)
		t := atomic.LoadUint64(&c.hdr.respTail)
		if h-t >= uint64(c.r.p.ResponseCap) {
			return 0, false
		}
		if atomic.CompareAndSwapUint64(&c.hdr.respHead, h, h+1) {
			slot := uint32(h % uint64(c.r.p.ResponseCap))
			atomic.StoreUint32(&c.respSlot(slot).state, respSlotPending)
			return slot, true
		}
	}
}

// ResponseBuffer returns the payload bytes of a claimed slot.
func (c *Conn) ResponseBuffer(slot uint32) []byte {
	return c.respData(slot)
}

// CommitResponse publishes a claimed slot to the consumer.
func (c *Conn) CommitResponse(slot uint32, serverPort [16]byte, numElems uint64) {
	s := c.respSlot(slot)
	s.serverPort = serverPort
	s.numElems = numElems
	atomic.StoreUint32(&s.state, respSlotLive)
}

// AbandonResponse marks a claimed slot as dropped so the consumer skips it.
func (c *Conn) AbandonResponse(slot uint32) {
	atomic.StoreUint32(&c.respSlot(slot).state, respSlotDropped)
}

// HasResponse reports whether at least one committed response is waiting.
func (c *Conn) HasResponse() bool {
	h := atomic.LoadUint64(&c.hdr.respHead)
	t := atomic.LoadUint64(&c.hdr.respTail)
	for ; t < h; t++ {
		s := c.respSlot(uint32(t % uint64(c.r.p.ResponseCap)))
		switch atomic.LoadUint32(&s.state) {
		case respSlotLive:
			return true
		case respSlotDropped:
			continue
		default:
			return false
		}
	}
	return false
}

// PopResponse copies the oldest committed response into dst and advances
// the ring. Only the client side calls this; it is the single consumer.
func (c *Conn) PopResponse(dst []byte) (serverPort [16]byte, numElems uint64, ok bool) {
	for {
		h := atomic.LoadUint64(&c.hdr.respHead)
		t := atomic.LoadUint64(&c.hdr.respTail)
		if t >= h {
			return serverPort, 0, false
		}
		slot := uint32(t % uint64(c.r.p.ResponseCap))
		s := c.respSlot(slot)
		switch atomic.LoadUint32(&s.state) {
		case respSlotDropped:
			atomic.StoreUint64(&c.hdr.respTail, t+1)
		case respSlotLive:
			serverPort = s.serverPort
			numElems = s.numElems
			copy(dst, c.respData(slot))
			atomic.StoreUint64(&c.hdr.respTail, t+1)
			return serverPort, numElems, true
		default:
			// Claimed but not yet committed; nothing consumable yet.
			return serverPort, 0, false
		}
	}
}

// Inbox is a view over one server's request inbox.
//
// The top bit of head is the seal: once set, no push can advance head, which
// is the rendezvous a closing server needs before draining. Without it a
// client that already saw the server's port slot as busy could deliver into
// the inbox after the drain, stranding a connection record whose references
// nobody drops.
type Inbox struct {
	r   *RR
	hdr *inboxHeader
	off uint64
}

const inboxSealed = uint64(1) << 63

// Inbox returns the inbox of server slot s.
func (r *RR) Inbox(s uint32) *Inbox {
	off := r.inboxOff + uint64(s)*r.p.inboxStride()
	return &Inbox{r: r, hdr: ptrAt[inboxHeader](r.base, off), off: off}
}

func (ib *Inbox) entry(i uint64) *uint32 {
	return ptrAt[uint32](ib.r.base, ib.off+16+(i%uint64(ib.r.p.InboxCap))*4)
}

func (ib *Inbox) head() uint64 {
	return atomic.LoadUint64(&ib.hdr.head) &^ inboxSealed
}

// Reset clears the inbox and lifts any seal. A server claiming the slot
// calls this before publishing its registration.
func (ib *Inbox) Reset() {
	atomic.StoreUint64(&ib.hdr.head, 0)
	atomic.StoreUint64(&ib.hdr.tail, 0)
	for i := uint64(0); i < uint64(ib.r.p.InboxCap); i++ {
		atomic.StoreUint32(ib.entry(i), 0)
	}
}

// Seal refuses all further pushes. Head carries the seal, so the sealing and
// a racing push resolve through the same CAS: after Seal returns, either the
// push is visible below head or it failed.
func (ib *Inbox) Seal() {
	for {
		h := atomic.LoadUint64(&ib.hdr.head)
		if h&inboxSealed != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&ib.hdr.head, h, h|inboxSealed) {
			return
		}
	}
}

// Push delivers a connection index to the server. Entries are stored as
// index+1 so zero means "not yet committed". It fails on a full or sealed
// inbox.
func (ib *Inbox) Push(connIdx uint32) bool {
	for {
		h := atomic.LoadUint64(&ib.hdr.head)
		if h&inboxSealed != 0 {
			return false
		}
		t := atomic.LoadUint64(&ib.hdr.tail)
		if h-t >= uint64(ib.r.p.InboxCap) {
			return false
		}
		if atomic.CompareAndSwapUint64(&ib.hdr.head, h, h+1) {
			atomic.StoreUint32(ib.entry(h), connIdx+1)
			return true
		}
	}
}

// HasEntries reports whether a committed entry is waiting.
func (ib *Inbox) HasEntries() bool {
	t := atomic.LoadUint64(&ib.hdr.tail)
	if t >= ib.head() {
		return false
	}
	return atomic.LoadUint32(ib.entry(t)) != 0
}

// Pop takes the oldest delivered connection index. It returns false when the
// inbox is empty or the head entry is still being committed.
func (ib *Inbox) Pop() (uint32, bool) {
	t := atomic.LoadUint64(&ib.hdr.tail)
	if t >= ib.head() {
		return 0, false
	}
	v := atomic.LoadUint32(ib.entry(t))
	if v == 0 {
		return 0, false
	}
	atomic.StoreUint32(ib.entry(t), 0)
	atomic.StoreUint64(&ib.hdr.tail, t+1)
	return v - 1, true
}

// Drain pops every delivered entry, waiting out entries whose commit is
// still in flight. The caller must have sealed the inbox or hold the slot
// exclusively, so head cannot advance and the wait is bounded by pushers
// finishing their entry store.
func (ib *Inbox) Drain(fn func(connIdx uint32)) {
	for {
		t := atomic.LoadUint64(&ib.hdr.tail)
		if t >= ib.head() {
			return
		}
		v := atomic.LoadUint32(ib.entry(t))
		if v == 0 {
			runtime.Gosched()
			continue
		}
		atomic.StoreUint32(ib.entry(t), 0)
		atomic.StoreUint64(&ib.hdr.tail, t+1)
		fn(v - 1)
	}
}
