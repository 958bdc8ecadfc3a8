package warren

import (
	"fmt"
	"sync/atomic"

	"github.com/dyluth/warren/internal/layout"
	"github.com/dyluth/warren/internal/shm"
)

// NotifierBuilder builds one notifier port.
type NotifierBuilder struct {
	f         *EventFactory
	defaultID EventID
}

// DefaultEventID sets the id delivered by Notify. Defaults to 0.
func (b *NotifierBuilder) DefaultEventID(id EventID) *NotifierBuilder {
	b.defaultID = id
	return b
}

// Create attaches the notifier. It fails with
// ErrExceedsMaxSupportedNotifiers when every notifier slot is taken.
func (b *NotifierBuilder) Create() (*Notifier, error) {
	svc := b.f.svc
	idMax := svc.static.Event.EventIDMaxValue
	if uint64(b.defaultID) > idMax {
		return nil, fmt.Errorf("%w: default id %d exceeds service maximum %d", ErrEventIDOutOfBounds, b.defaultID, idMax)
	}
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	slot, ok := svc.dyn.ClaimPort(layout.RoleNotifier, id, b.f.nodeID, uint64(b.defaultID), nil)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedNotifiers, svc.dyn.Capacity(layout.RoleNotifier))
	}
	return &Notifier{svc: svc, id: id, slot: slot, defaultID: b.defaultID, idMax: idMax}, nil
}

// Notifier fires events at every listener attached to the service. Delivery
// is a set union: a listener that has not woken up yet sees repeated ids
// once.
type Notifier struct {
	svc       *service
	id        [16]byte
	slot      uint32
	defaultID EventID
	idMax     uint64
	closed    atomic.Bool
	closer    portCloser
}

// ID returns the port's unique id.
func (n *Notifier) ID() string {
	return portIDString(n.id)
}

// Notify delivers the default event id. It returns how many listeners were
// notified.
func (n *Notifier) Notify() (int, error) {
	return n.NotifyWithID(n.defaultID)
}

// NotifyWithID delivers the given event id to every attached listener and
// wakes the ones that are waiting. It returns how many listeners were
// notified.
func (n *Notifier) NotifyWithID(id EventID) (int, error) {
	if n.closed.Load() {
		return 0, fmt.Errorf("%w: notifier is closed", ErrPortClosed)
	}
	if uint64(id) > n.idMax {
		return 0, fmt.Errorf("%w: id %d exceeds service maximum %d", ErrEventIDOutOfBounds, id, n.idMax)
	}
	notified := 0
	caps := n.svc.dyn.Capacity(layout.RoleListener)
	for i := uint32(0); i < caps; i++ {
		if _, ok := n.svc.dyn.PortAt(layout.RoleListener, i); !ok {
			continue
		}
		n.svc.ev.Post(i, uint64(id))
		shm.Wake(n.svc.ev.Signal(i), 1)
		notified++
	}
	return notified, nil
}

// Close detaches the port.
func (n *Notifier) Close() error {
	return n.closer.close(func() error {
		n.closed.Store(true)
		n.svc.dyn.ReleasePort(layout.RoleNotifier, n.slot)
		return n.svc.unref()
	})
}
