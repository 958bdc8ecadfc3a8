package warren

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/layout"
)

// PublishSubscribeBuilder resolves a publish-subscribe service with payload
// type T. On Create the configured amounts are the service's capacities; on
// Open they are requirements the existing service must meet. Amounts never
// set carry no requirement.
type PublishSubscribeBuilder[T any] struct {
	node        *Node
	name        string
	publishers  uint32
	subscribers uint32
	nodes       uint32
	bufferSize  uint32
	history     uint32
	sliceLen    uint32
	overflow    bool
	attrs       *AttributeSpecifier
	verifier    *AttributeVerifier
	payload     TypeDetail
	err         error

	setPublishers  bool
	setSubscribers bool
	setNodes       bool
	setBufferSize  bool
	setHistory     bool
	setSliceLen    bool
}

// NewPublishSubscribeBuilder starts resolution of the named service.
func NewPublishSubscribeBuilder[T any](node *Node, serviceName string) *PublishSubscribeBuilder[T] {
	d := node.cfg.Defaults.PublishSubscribe
	b := &PublishSubscribeBuilder[T]{
		node:        node,
		name:        serviceName,
		publishers:  d.MaxPublishers,
		subscribers: d.MaxSubscribers,
		nodes:       d.MaxNodes,
		bufferSize:  d.SubscriberBufferSize,
		history:     d.HistorySize,
		sliceLen:    d.MaxSliceLen,
		overflow:    d.EnableSafeOverflow,
	}
	b.payload, b.err = TypeDetailOf[T]()
	return b
}

// MaxPublishers sets the publisher capacity, or the required minimum on
// open. Zero is treated as one.
func (b *PublishSubscribeBuilder[T]) MaxPublishers(n uint32) *PublishSubscribeBuilder[T] {
	b.publishers = normalizeCap(n)
	b.setPublishers = true
	return b
}

// MaxSubscribers sets the subscriber capacity, or the required minimum on
// open. Zero is treated as one.
func (b *PublishSubscribeBuilder[T]) MaxSubscribers(n uint32) *PublishSubscribeBuilder[T] {
	b.subscribers = normalizeCap(n)
	b.setSubscribers = true
	return b
}

// MaxNodes sets the node capacity, or the required minimum on open. Zero is
// treated as one.
func (b *PublishSubscribeBuilder[T]) MaxNodes(n uint32) *PublishSubscribeBuilder[T] {
	b.nodes = normalizeCap(n)
	b.setNodes = true
	return b
}

// SubscriberBufferSize sets how many samples a subscriber can hold before
// reading, or the required minimum on open. Zero is treated as one.
func (b *PublishSubscribeBuilder[T]) SubscriberBufferSize(n uint32) *PublishSubscribeBuilder[T] {
	b.bufferSize = normalizeCap(n)
	b.setBufferSize = true
	return b
}

// HistorySize sets how many past samples each publisher replays to late
// joining subscribers, or the required minimum on open. Zero disables
// history.
func (b *PublishSubscribeBuilder[T]) HistorySize(n uint32) *PublishSubscribeBuilder[T] {
	b.history = n
	b.setHistory = true
	return b
}

// MaxSliceLen sets the largest number of elements a single sample may
// carry, or the required minimum on open. A value above one makes this a
// slice service: samples are []T of varying length up to the maximum.
func (b *PublishSubscribeBuilder[T]) MaxSliceLen(n uint32) *PublishSubscribeBuilder[T] {
	b.sliceLen = normalizeCap(n)
	b.setSliceLen = true
	return b
}

// EnableSafeOverflow chooses what a full subscriber buffer does to a send:
// drop the oldest unread sample (true) or fail the send (false). Only the
// creator's choice matters.
func (b *PublishSubscribeBuilder[T]) EnableSafeOverflow(on bool) *PublishSubscribeBuilder[T] {
	b.overflow = on
	return b
}

// Attributes sets the attributes stamped onto the service when this builder
// ends up creating it.
func (b *PublishSubscribeBuilder[T]) Attributes(spec *AttributeSpecifier) *PublishSubscribeBuilder[T] {
	b.attrs = spec
	return b
}

// RequiredAttributes sets attribute requirements checked when this builder
// ends up opening an existing service.
func (b *PublishSubscribeBuilder[T]) RequiredAttributes(v *AttributeVerifier) *PublishSubscribeBuilder[T] {
	b.verifier = v
	return b
}

// payloadDetail returns T's descriptor with the slice variant applied.
func (b *PublishSubscribeBuilder[T]) payloadDetail() TypeDetail {
	d := b.payload
	if b.sliceLen > 1 {
		d.Variant = TypeVariantDynamic
	}
	return d
}

// Create publishes a new publish-subscribe service.
func (b *PublishSubscribeBuilder[T]) Create() (*PublishSubscribeFactory[T], error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(b.name); err != nil {
		return nil, err
	}
	sc := &StaticConfig{
		ServiceID: serviceIDFor(b.name, MessagingPatternPublishSubscribe),
		Name:      b.name,
		Pattern:   MessagingPatternPublishSubscribe,
		CreatedAt: time.Now().UTC(),
		MaxNodes:  normalizeCap(b.nodes),
		PublishSubscribe: &PublishSubscribeConfig{
			MaxPublishers:        normalizeCap(b.publishers),
			MaxSubscribers:       normalizeCap(b.subscribers),
			SubscriberBufferSize: normalizeCap(b.bufferSize),
			HistorySize:          b.history,
			MaxSliceLen:          normalizeCap(b.sliceLen),
			EnableSafeOverflow:   b.overflow,
			PayloadType:          b.payloadDetail(),
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
	return &PublishSubscribeFactory[T]{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// Open attaches to an existing publish-subscribe service.
func (b *PublishSubscribeBuilder[T]) Open() (*PublishSubscribeFactory[T], error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(b.name); err != nil {
		return nil, err
	}
	pd := b.payloadDetail()
	svc, err := openService(b.node.st, b.node.cfg, b.name, MessagingPatternPublishSubscribe, func(sc *StaticConfig) error {
		pc := sc.PublishSubscribe
		if pc.PayloadType.TypeName != pd.TypeName || pc.PayloadType.Size != pd.Size || pc.PayloadType.Alignment != pd.Alignment {
			return fmt.Errorf("%w: service carries %s, caller wants %s", ErrIncompatiblePayloadType, pc.PayloadType, pd)
		}
		if b.setSliceLen && pc.PayloadType.Variant != pd.Variant {
			return fmt.Errorf("%w: service carries %s, caller wants %s", ErrIncompatiblePayloadType, pc.PayloadType, pd)
		}
		if err := b.verifier.Verify(sc.Attributes); err != nil {
			return err
		}
		if b.setPublishers && pc.MaxPublishers < b.publishers {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfPublishers, pc.MaxPublishers, b.publishers)
		}
		if b.setSubscribers && pc.MaxSubscribers < b.subscribers {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfSubscribers, pc.MaxSubscribers, b.subscribers)
		}
		if b.setNodes && sc.MaxNodes < b.nodes {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfNodes, sc.MaxNodes, b.nodes)
		}
		if b.setBufferSize && pc.SubscriberBufferSize < b.bufferSize {
			return fmt.Errorf("%w: service buffers %d samples, caller requires %d", ErrDoesNotSupportRequestedMinBufferSize, pc.SubscriberBufferSize, b.bufferSize)
		}
		if b.setHistory && pc.HistorySize < b.history {
			return fmt.Errorf("%w: service keeps %d samples of history, caller requires %d", ErrDoesNotSupportRequestedMinHistorySize, pc.HistorySize, b.history)
		}
		if b.setSliceLen && pc.MaxSliceLen < b.sliceLen {
			return fmt.Errorf("%w: service allows %d elements per sample, caller requires %d", ErrDoesNotSupportRequestedMaxSliceLen, pc.MaxSliceLen, b.sliceLen)
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
	return &PublishSubscribeFactory[T]{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// OpenOrCreate opens the service when it exists and creates it otherwise.
func (b *PublishSubscribeBuilder[T]) OpenOrCreate() (*PublishSubscribeFactory[T], error) {
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

// PublishSubscribeFactory is the handle to an attached publish-subscribe
// service.
type PublishSubscribeFactory[T any] struct {
	svc      *service
	nodeID   [16]byte
	nodeSlot uint32
	closer   portCloser
}

// Name returns the service name.
func (f *PublishSubscribeFactory[T]) Name() string { return f.svc.static.Name }

// ID returns the content-derived service id.
func (f *PublishSubscribeFactory[T]) ID() string { return f.svc.static.ServiceID }

// Attributes returns the attribute set stamped at creation.
func (f *PublishSubscribeFactory[T]) Attributes() AttributeSet { return f.svc.static.Attributes }

// StaticConfig returns the service's immutable descriptor. Callers must not
// modify it.
func (f *PublishSubscribeFactory[T]) StaticConfig() *StaticConfig { return f.svc.static }

// NumberOfPublishers returns the count of currently attached publishers.
func (f *PublishSubscribeFactory[T]) NumberOfPublishers() int {
	return int(f.svc.dyn.PortCount(layout.RolePublisher))
}

// NumberOfSubscribers returns the count of currently attached subscribers.
func (f *PublishSubscribeFactory[T]) NumberOfSubscribers() int {
	return int(f.svc.dyn.PortCount(layout.RoleSubscriber))
}

// NumberOfNodes returns the count of currently attached nodes.
func (f *PublishSubscribeFactory[T]) NumberOfNodes() int {
	return int(f.svc.dyn.NodeCount())
}

// ListPublishers visits every attached publisher port. Return false to
// stop.
func (f *PublishSubscribeFactory[T]) ListPublishers(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RolePublisher, fn)
}

// ListSubscribers visits every attached subscriber port. Return false to
// stop.
func (f *PublishSubscribeFactory[T]) ListSubscribers(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleSubscriber, fn)
}

// Publisher starts a publisher port builder.
func (f *PublishSubscribeFactory[T]) Publisher() *PublisherBuilder[T] {
	return &PublisherBuilder[T]{f: f}
}

// Subscriber starts a subscriber port builder.
func (f *PublishSubscribeFactory[T]) Subscriber() *SubscriberBuilder[T] {
	return &SubscriberBuilder[T]{f: f}
}

// Close releases the factory's reference. Ports built through it stay
// valid.
func (f *PublishSubscribeFactory[T]) Close() error {
	return f.closer.close(func() error {
		f.svc.dyn.ReleaseNode(f.nodeSlot)
		return f.svc.unref()
	})
}
