package warren

import (
	"sync"

	"github.com/dyluth/warren/internal/layout"
)

// PortDetails identifies one attached port in listings.
type PortDetails struct {
	// PortID is the port's unique id.
	PortID string
	// NodeID is the id of the node the port was built through.
	NodeID string
}

func (s *service) listPorts(r layout.Role, fn func(PortDetails) bool) {
	s.dyn.ListPorts(r, func(rec layout.PortRecord) bool {
		return fn(PortDetails{
			PortID: portIDString(rec.PortID),
			NodeID: portIDString(rec.NodeID),
		})
	})
}

// portCloser makes Close idempotent: the teardown runs once and later calls
// return its result.
type portCloser struct {
	once sync.Once
	err  error
}

func (c *portCloser) close(fn func() error) error {
	c.once.Do(func() { c.err = fn() })
	return c.err
}

// normalizeCap maps a requested capacity of zero to one. A service always
// supports at least one port of each of its roles and one node.
func normalizeCap(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}
