package warren

import (
	"time"

	"github.com/dyluth/warren/internal/shm"
)

// PurgeService force-removes both files of a service by id. Processes still
// attached keep their mappings and will not notice until they try to resolve
// the name again; use InspectService first to see whether anyone is.
func PurgeService(node *Node, serviceID string) error {
	if err := node.guard(); err != nil {
		return err
	}
	return node.st.removeAll(serviceID)
}

// OrphanedSegments returns the ids of segment files that have no descriptor
// and have been sitting around longer than the creation timeout. These are
// leftovers of creators that died between creating the segment and
// publishing the descriptor; PurgeService reclaims them.
func OrphanedSegments(node *Node) ([]string, error) {
	if err := node.guard(); err != nil {
		return nil, err
	}
	st := node.st
	ids, err := st.listSegmentIDs()
	if err != nil {
		return nil, err
	}
	timeout := st.cfg.Global.Service.CreationTimeout()
	var orphans []string
	for _, id := range ids {
		if exists, _ := st.descriptorState(id); exists {
			continue
		}
		mt, err := shm.ModTime(st.segDir, st.segmentName(id))
		if err != nil {
			continue
		}
		if time.Since(time.Unix(0, mt)) > timeout {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}
