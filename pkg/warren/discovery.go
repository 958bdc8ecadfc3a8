package warren

import "errors"

// ServiceDetails is one entry of a service listing.
type ServiceDetails struct {
	// Name is the service name, empty when the descriptor could not be
	// parsed.
	Name string
	// Pattern is the service's messaging pattern.
	Pattern MessagingPattern
	// ID is the content-derived service id.
	ID string
	// Static is the full descriptor. Corrupted services carry
	// Static.Corrupted; their other fields may be incomplete.
	Static *StaticConfig
}

// ListServices visits every service published under the node's root,
// including corrupted ones. Return false to stop. Services appearing or
// vanishing during the walk may or may not be seen; a service removed
// between listing and reading is skipped.
func ListServices(node *Node, fn func(ServiceDetails) bool) error {
	if err := node.guard(); err != nil {
		return err
	}
	ids, err := node.st.listServiceIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		sc, err := node.st.readDescriptor(id)
		switch {
		case err == nil:
		case errors.Is(err, ErrDoesNotExist):
			continue
		case errors.Is(err, ErrServiceInCorruptedState):
			sc = &StaticConfig{ServiceID: id, Corrupted: true}
		default:
			return err
		}
		if !fn(ServiceDetails{Name: sc.Name, Pattern: sc.Pattern, ID: sc.ServiceID, Static: sc}) {
			return nil
		}
	}
	return nil
}
