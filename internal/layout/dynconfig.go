package layout

import (
	"sync/atomic"
	"unsafe"
)

// Role indexes the per-role port slot arrays of the dynamic config. Patterns
// use two of the eight roles each; the others get zero capacity.
type Role uint32

const (
	RoleReader Role = iota
	RoleWriter
	RoleClient
	RoleServer
	RolePublisher
	RoleSubscriber
	RoleNotifier
	RoleListener
	RoleCount
)

// String returns the plural display name used in listings.
func (r Role) String() string {
	switch r {
	case RoleReader:
		return "readers"
	case RoleWriter:
		return "writers"
	case RoleClient:
		return "clients"
	case RoleServer:
		return "servers"
	case RolePublisher:
		return "publishers"
	case RoleSubscriber:
		return "subscribers"
	case RoleNotifier:
		return "notifiers"
	case RoleListener:
		return "listeners"
	default:
		return "unknown"
	}
}

// DynParams sizes the dynamic config region.
type DynParams struct {
	MaxNodes uint32
	RoleCaps [RoleCount]uint32
}

// dynHeader mirrors the on-segment dynamic config header.
type dynHeader struct {
	maxNodes   uint32
	roleCaps   [RoleCount]uint32
	nodeCount  uint32
	roleCounts [RoleCount]uint32
	_          [4]byte
}

const dynHeaderSize = CacheLine * 2 // room for dynHeader, padded

// nodeSlot is one attachment record. A factory handle claims one slot for
// its node while it is open.
type nodeSlot struct {
	state uint32
	_     uint32
	id    [16]byte
	_     [8]byte
}

const nodeSlotSize = 32

// portSlot is one registered port of any role.
type portSlot struct {
	state  uint32
	_      uint32
	portID [16]byte
	nodeID [16]byte
	meta   uint64
}

const portSlotSize = 48

// PortRecord is the snapshot of one busy port slot handed to listing
// visitors.
type PortRecord struct {
	PortID [16]byte
	NodeID [16]byte
	Meta   uint64
}

// DynSize returns the region size for the given parameters.
func DynSize(p DynParams) uint64 {
	size := uint64(dynHeaderSize)
	size += uint64(p.MaxNodes) * nodeSlotSize
	for _, c := range p.RoleCaps {
		size += uint64(c) * portSlotSize
	}
	return AlignCacheLine(size)
}

// DynConfig is a view over the dynamic config region of a mapped segment.
type DynConfig struct {
	base unsafe.Pointer
	hdr  *dynHeader
}

// InitDynConfig writes capacities into a freshly zeroed region and returns
// the view. Only the creating process calls this, before the service is
// published.
func InitDynConfig(base unsafe.Pointer, p DynParams) *DynConfig {
	d := &DynConfig{base: base, hdr: (*dynHeader)(base)}
	d.hdr.maxNodes = p.MaxNodes
	d.hdr.roleCaps = p.RoleCaps
	return d
}

// MapDynConfig interprets an existing region.
func MapDynConfig(base unsafe.Pointer) *DynConfig {
	return &DynConfig{base: base, hdr: (*dynHeader)(base)}
}

func (d *DynConfig) nodeOff() uint64 {
	return dynHeaderSize
}

func (d *DynConfig) roleOff(r Role) uint64 {
	off := d.nodeOff() + uint64(d.hdr.maxNodes)*nodeSlotSize
	for i := Role(0); i < r; i++ {
		off += uint64(d.hdr.roleCaps[i]) * portSlotSize
	}
	return off
}

func (d *DynConfig) node(i uint32) *nodeSlot {
	return ptrAt[nodeSlot](d.base, d.nodeOff()+uint64(i)*nodeSlotSize)
}

func (d *DynConfig) port(r Role, i uint32) *portSlot {
	return ptrAt[portSlot](d.base, d.roleOff(r)+uint64(i)*portSlotSize)
}

// Capacity returns the configured maximum for a role.
func (d *DynConfig) Capacity(r Role) uint32 {
	return d.hdr.roleCaps[r]
}

// MaxNodes returns the configured node capacity.
func (d *DynConfig) MaxNodes() uint32 {
	return d.hdr.maxNodes
}

// NodeCount returns the number of currently attached nodes.
func (d *DynConfig) NodeCount() uint32 {
	return atomic.LoadUint32(&d.hdr.nodeCount)
}

// PortCount returns the number of currently registered ports of a role.
func (d *DynConfig) PortCount(r Role) uint32 {
	return atomic.LoadUint32(&d.hdr.roleCounts[r])
}

// ClaimNode registers a node attachment. It returns the claimed slot index,
// or false when every slot is taken.
func (d *DynConfig) ClaimNode(id [16]byte) (uint32, bool) {
	for i := uint32(0); i < d.hdr.maxNodes; i++ {
		s := d.node(i)
		if atomic.CompareAndSwapUint32(&s.state, SlotFree, SlotClaiming) {
			s.id = id
			atomic.StoreUint32(&s.state, SlotBusy)
			atomic.AddUint32(&d.hdr.nodeCount, 1)
			return i, true
		}
	}
	return 0, false
}

// ReleaseNode frees a node slot. Idempotence is the caller's concern; a slot
// is released exactly once by the factory that claimed it.
func (d *DynConfig) ReleaseNode(i uint32) {
	s := d.node(i)
	atomic.AddUint32(&d.hdr.nodeCount, ^uint32(0))
	atomic.StoreUint32(&s.state, SlotFree)
}

// ListNodes visits every attached node id. Returning false stops the walk.
func (d *DynConfig) ListNodes(fn func(id [16]byte) bool) {
	for i := uint32(0); i < d.hdr.maxNodes; i++ {
		s := d.node(i)
		if atomic.LoadUint32(&s.state) != SlotBusy {
			continue
		}
		id := s.id
		if atomic.LoadUint32(&s.state) != SlotBusy {
			continue
		}
		if !fn(id) {
			return
		}
	}
}

// ClaimPort registers a port. It returns the claimed slot index, or false
// when the role is at capacity. A non-nil init runs on the claimed index
// while the slot is still claiming: pattern state addressed by the index
// (subscriber rings, listener signal slots, server inboxes) must be prepared
// before any peer can observe the slot as busy and start using it.
func (d *DynConfig) ClaimPort(r Role, portID, nodeID [16]byte, meta uint64, init func(slot uint32)) (uint32, bool) {
	for i := uint32(0); i < d.hdr.roleCaps[r]; i++ {
		s := d.port(r, i)
		if atomic.CompareAndSwapUint32(&s.state, SlotFree, SlotClaiming) {
			s.portID = portID
			s.nodeID = nodeID
			s.meta = meta
			if init != nil {
				init(i)
			}
			atomic.StoreUint32(&s.state, SlotBusy)
			atomic.AddUint32(&d.hdr.roleCounts[r], 1)
			return i, true
		}
	}
	return 0, false
}

// ReleasePort frees a port slot.
func (d *DynConfig) ReleasePort(r Role, i uint32) {
	s := d.port(r, i)
	atomic.AddUint32(&d.hdr.roleCounts[r], ^uint32(0))
	atomic.StoreUint32(&s.state, SlotFree)
}

// PortAt returns the record at a slot index if it is busy. Used where a
// role's slot index doubles as an index into a pattern region (listener
// signal tables, subscriber rings).
func (d *DynConfig) PortAt(r Role, i uint32) (PortRecord, bool) {
	s := d.port(r, i)
	if atomic.LoadUint32(&s.state) != SlotBusy {
		return PortRecord{}, false
	}
	rec := PortRecord{PortID: s.portID, NodeID: s.nodeID, Meta: s.meta}
	if atomic.LoadUint32(&s.state) != SlotBusy || rec.PortID != s.portID {
		return PortRecord{}, false
	}
	return rec, true
}

// ListPorts visits every registered port of a role. The order is the slot
// order, which carries no meaning. Slots released or reused mid-walk are
// skipped; a record is only reported when its slot was stably busy around
// the copy. Returning false stops the walk immediately.
func (d *DynConfig) ListPorts(r Role, fn func(rec PortRecord) bool) {
	for i := uint32(0); i < d.hdr.roleCaps[r]; i++ {
		rec, ok := d.PortAt(r, i)
		if !ok {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}
