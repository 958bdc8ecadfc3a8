package warren

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/layout"
)

// EventID names one kind of occurrence on an event service. Ids are small
// numbers bounded by the service's configured maximum; delivery coalesces
// repeats of the same id.
type EventID uint64

// EventBuilder resolves an event service. On Create the configured amounts
// are the service's capacities; on Open they are requirements the existing
// service must meet. Amounts never set carry no requirement.
type EventBuilder struct {
	node      *Node
	name      string
	notifiers uint32
	listeners uint32
	nodes     uint32
	idMax     uint64
	deadline  time.Duration
	attrs     *AttributeSpecifier
	verifier  *AttributeVerifier

	setNotifiers bool
	setListeners bool
	setNodes     bool
	setIDMax     bool
}

// NewEventBuilder starts resolution of the named event service.
func NewEventBuilder(node *Node, serviceName string) *EventBuilder {
	d := node.cfg.Defaults.Event
	return &EventBuilder{
		node:      node,
		name:      serviceName,
		notifiers: d.MaxNotifiers,
		listeners: d.MaxListeners,
		nodes:     d.MaxNodes,
		idMax:     d.EventIDMaxValue,
		deadline:  time.Duration(d.DeadlineMs) * time.Millisecond,
	}
}

// MaxNotifiers sets the notifier capacity, or the required minimum on open.
// Zero is treated as one.
func (b *EventBuilder) MaxNotifiers(n uint32) *EventBuilder {
	b.notifiers = normalizeCap(n)
	b.setNotifiers = true
	return b
}

// MaxListeners sets the listener capacity, or the required minimum on open.
// Zero is treated as one.
func (b *EventBuilder) MaxListeners(n uint32) *EventBuilder {
	b.listeners = normalizeCap(n)
	b.setListeners = true
	return b
}

// MaxNodes sets the node capacity, or the required minimum on open. Zero is
// treated as one.
func (b *EventBuilder) MaxNodes(n uint32) *EventBuilder {
	b.nodes = normalizeCap(n)
	b.setNodes = true
	return b
}

// EventIDMaxValue sets the largest deliverable event id, or the required
// largest id on open.
func (b *EventBuilder) EventIDMaxValue(max uint64) *EventBuilder {
	b.idMax = max
	b.setIDMax = true
	return b
}

// Deadline records the expected maximum gap between notifications. It is
// descriptive: warren stores it for inspection but does not enforce it.
func (b *EventBuilder) Deadline(d time.Duration) *EventBuilder {
	b.deadline = d
	return b
}

// Attributes sets the attributes stamped onto the service when this builder
// ends up creating it.
func (b *EventBuilder) Attributes(spec *AttributeSpecifier) *EventBuilder {
	b.attrs = spec
	return b
}

// RequiredAttributes sets attribute requirements checked when this builder
// ends up opening an existing service.
func (b *EventBuilder) RequiredAttributes(v *AttributeVerifier) *EventBuilder {
	b.verifier = v
	return b
}

// Create publishes a new event service.
func (b *EventBuilder) Create() (*EventFactory, error) {
	if err := b.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(b.name); err != nil {
		return nil, err
	}
	sc := &StaticConfig{
		ServiceID: serviceIDFor(b.name, MessagingPatternEvent),
		Name:      b.name,
		Pattern:   MessagingPatternEvent,
		CreatedAt: time.Now().UTC(),
		MaxNodes:  normalizeCap(b.nodes),
		Event: &EventConfig{
			MaxNotifiers:    normalizeCap(b.notifiers),
			MaxListeners:    normalizeCap(b.listeners),
			EventIDMaxValue: b.idMax,
			DeadlineMs:      b.deadline.Milliseconds(),
		},
	}
	if b.attrs != nil {
		sc.Attributes = b.attrs.Attributes()
	}
	var nodeSlot uint32
	svc, err := createService(b.node.st, b.node.cfg, sc, func(s *service) {
		nodeSlot, _ = s.dyn.ClaimNode([16]byte(b.node.id))
	})
	if err != nil {
		return nil, err
	}
	return &EventFactory{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// Open attaches to an existing event service.
func (b *EventBuilder) Open() (*EventFactory, error) {
	if err := b.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(b.name); err != nil {
		return nil, err
	}
	svc, err := openService(b.node.st, b.node.cfg, b.name, MessagingPatternEvent, func(sc *StaticConfig) error {
		ec := sc.Event
		if err := b.verifier.Verify(sc.Attributes); err != nil {
			return err
		}
		if b.setNotifiers && ec.MaxNotifiers < b.notifiers {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfNotifiers, ec.MaxNotifiers, b.notifiers)
		}
		if b.setListeners && ec.MaxListeners < b.listeners {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfListeners, ec.MaxListeners, b.listeners)
		}
		if b.setNodes && sc.MaxNodes < b.nodes {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfNodes, sc.MaxNodes, b.nodes)
		}
		if b.setIDMax && ec.EventIDMaxValue < b.idMax {
			return fmt.Errorf("%w: service caps event ids at %d, caller requires %d", ErrEventIDOutOfBounds, ec.EventIDMaxValue, b.idMax)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	nodeSlot, ok := svc.dyn.ClaimNode([16]byte(b.node.id))
	if !ok {
		// Read the capacity before unref: dropping the last local reference
		// unmaps the segment the dynamic config lives in.
		maxNodes := svc.dyn.MaxNodes()
		svc.unref()
		return nil, fmt.Errorf("%w: all %d node slots of %q are taken", ErrExceedsMaxNumberOfNodes, maxNodes, b.name)
	}
	return &EventFactory{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// OpenOrCreate opens the service when it exists and creates it otherwise.
func (b *EventBuilder) OpenOrCreate() (*EventFactory, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := b.Open()
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrDoesNotExist) {
			return nil, err
		}
		f, err = b.Create()
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q kept appearing and disappearing during open-or-create", ErrDoesNotExist, b.name)
}

// EventFactory is the handle to an attached event service.
type EventFactory struct {
	svc      *service
	nodeID   [16]byte
	nodeSlot uint32
	closer   portCloser
}

// Name returns the service name.
func (f *EventFactory) Name() string { return f.svc.static.Name }

// ID returns the content-derived service id.
func (f *EventFactory) ID() string { return f.svc.static.ServiceID }

// Attributes returns the attribute set stamped at creation.
func (f *EventFactory) Attributes() AttributeSet { return f.svc.static.Attributes }

// StaticConfig returns the service's immutable descriptor. Callers must not
// modify it.
func (f *EventFactory) StaticConfig() *StaticConfig { return f.svc.static }

// EventIDMaxValue returns the largest id this service can deliver.
func (f *EventFactory) EventIDMaxValue() EventID {
	return EventID(f.svc.static.Event.EventIDMaxValue)
}

// NumberOfNotifiers returns the count of currently attached notifier ports.
func (f *EventFactory) NumberOfNotifiers() int {
	return int(f.svc.dyn.PortCount(layout.RoleNotifier))
}

// NumberOfListeners returns the count of currently attached listener ports.
func (f *EventFactory) NumberOfListeners() int {
	return int(f.svc.dyn.PortCount(layout.RoleListener))
}

// NumberOfNodes returns the count of currently attached nodes.
func (f *EventFactory) NumberOfNodes() int {
	return int(f.svc.dyn.NodeCount())
}

// ListNotifiers visits every attached notifier port. Return false to stop.
func (f *EventFactory) ListNotifiers(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleNotifier, fn)
}

// ListListeners visits every attached listener port. Return false to stop.
func (f *EventFactory) ListListeners(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleListener, fn)
}

// Notifier starts a notifier port builder.
func (f *EventFactory) Notifier() *NotifierBuilder {
	return &NotifierBuilder{f: f}
}

// Listener starts a listener port builder.
func (f *EventFactory) Listener() *ListenerBuilder {
	return &ListenerBuilder{f: f}
}

// Close releases the factory's reference. Ports built through it stay
// valid.
func (f *EventFactory) Close() error {
	return f.closer.close(func() error {
		f.svc.dyn.ReleaseNode(f.nodeSlot)
		return f.svc.unref()
	})
}
