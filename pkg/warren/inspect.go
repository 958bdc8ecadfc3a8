package warren

import (
	"errors"
	"path/filepath"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
	"github.com/dyluth/warren/internal/shm"
)

// ServiceState is a point-in-time snapshot of one service, taken without
// attaching to it. Everything in it may be stale by the time it is read.
type ServiceState struct {
	// Static is the descriptor as published. For a corrupted service only
	// ServiceID and Corrupted are reliable.
	Static *StaticConfig
	// DescriptorPath and SegmentPath are where the service's files live.
	DescriptorPath string
	SegmentPath    string
	// Segment is nil when the backing segment is missing or unreadable.
	Segment *SegmentState
}

// SegmentState is the live side of a snapshot.
type SegmentState struct {
	// References is the distributed reference count: one per factory and
	// per port, across all processes.
	References uint64
	// Nodes is the count of attached nodes.
	Nodes int
	// Ports maps a role name to the count of attached ports of that role.
	// Only roles the pattern uses appear.
	Ports map[string]int
	// Size is the segment size in bytes.
	Size uint64
}

// InspectService snapshots a service by id. It takes no reference: the
// service cannot tell it was looked at, and the snapshot does not keep it
// alive. The error is ErrDoesNotExist when no descriptor with that id is
// published; a corrupted descriptor is returned as a state, not an error.
func InspectService(node *Node, serviceID string) (*ServiceState, error) {
	if err := node.guard(); err != nil {
		return nil, err
	}
	st := node.st
	state := &ServiceState{
		DescriptorPath: st.descriptorPath(serviceID),
		SegmentPath:    filepath.Join(st.segDir, st.segmentName(serviceID)),
	}
	sc, err := st.readDescriptor(serviceID)
	switch {
	case err == nil:
		state.Static = sc
	case errors.Is(err, ErrServiceInCorruptedState):
		state.Static = &StaticConfig{ServiceID: serviceID, Corrupted: true}
		return state, nil
	default:
		return nil, err
	}
	if sc.Corrupted {
		return state, nil
	}

	l, err := layoutFor(sc)
	if err != nil {
		return state, nil
	}
	seg, err := shm.Open(st.segDir, st.segmentName(serviceID))
	if err != nil {
		return state, nil
	}
	defer seg.Close()
	hdr := layout.MapHeader(seg.Pointer())
	if uint64(seg.Size()) < l.total || hdr.Validate(sc.Pattern.code(), serviceIDBytes(serviceID), l.total) != nil {
		return state, nil
	}
	dyn := layout.MapDynConfig(unsafe.Add(seg.Pointer(), l.dynOff))

	ports := make(map[string]int)
	for r := layout.Role(0); r < layout.RoleCount; r++ {
		if dyn.Capacity(r) == 0 {
			continue
		}
		ports[r.String()] = int(dyn.PortCount(r))
	}
	state.Segment = &SegmentState{
		References: hdr.RefCount(),
		Nodes:      int(dyn.NodeCount()),
		Ports:      ports,
		Size:       l.total,
	}
	return state, nil
}
