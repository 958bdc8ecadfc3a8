package warren

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/layout"
)

// RequestResponseBuilder resolves a request-response service with request
// type Req and response type Resp. On Create the configured amounts are the
// service's capacities; on Open they are requirements the existing service
// must meet. Amounts never set carry no requirement.
type RequestResponseBuilder[Req any, Resp any] struct {
	node       *Node
	name       string
	clients    uint32
	servers    uint32
	nodes      uint32
	maxActive  uint32
	respBuffer uint32
	maxLoans   uint32
	fireForget bool
	attrs      *AttributeSpecifier
	verifier   *AttributeVerifier
	reqDetail  TypeDetail
	respDetail TypeDetail
	err        error

	setClients    bool
	setServers    bool
	setNodes      bool
	setMaxActive  bool
	setRespBuffer bool
	setFireForget bool
}

// NewRequestResponseBuilder starts resolution of the named service.
func NewRequestResponseBuilder[Req any, Resp any](node *Node, serviceName string) *RequestResponseBuilder[Req, Resp] {
	d := node.cfg.Defaults.RequestResponse
	b := &RequestResponseBuilder[Req, Resp]{
		node:       node,
		name:       serviceName,
		clients:    d.MaxClients,
		servers:    d.MaxServers,
		nodes:      d.MaxNodes,
		maxActive:  d.MaxActiveRequestsPerClient,
		respBuffer: d.ResponseBufferSize,
		maxLoans:   d.MaxLoansPerRequest,
		fireForget: d.EnableFireAndForget,
	}
	b.reqDetail, b.err = TypeDetailOf[Req]()
	if b.err == nil {
		b.respDetail, b.err = TypeDetailOf[Resp]()
	}
	return b
}

// MaxClients sets the client capacity, or the required minimum on open.
// Zero is treated as one.
func (b *RequestResponseBuilder[Req, Resp]) MaxClients(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.clients = normalizeCap(n)
	b.setClients = true
	return b
}

// MaxServers sets the server capacity, or the required minimum on open.
// Zero is treated as one.
func (b *RequestResponseBuilder[Req, Resp]) MaxServers(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.servers = normalizeCap(n)
	b.setServers = true
	return b
}

// MaxNodes sets the node capacity, or the required minimum on open. Zero is
// treated as one.
func (b *RequestResponseBuilder[Req, Resp]) MaxNodes(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.nodes = normalizeCap(n)
	b.setNodes = true
	return b
}

// MaxActiveRequestsPerClient sets how many requests one client may have in
// flight, or the required minimum on open. Zero is treated as one.
func (b *RequestResponseBuilder[Req, Resp]) MaxActiveRequestsPerClient(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.maxActive = normalizeCap(n)
	b.setMaxActive = true
	return b
}

// ResponseBufferSize sets how many unread responses one request can hold,
// or the required minimum on open. Zero is treated as one.
func (b *RequestResponseBuilder[Req, Resp]) ResponseBufferSize(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.respBuffer = normalizeCap(n)
	b.setRespBuffer = true
	return b
}

// MaxLoansPerRequest sets how many response buffers a server may have
// loaned per active request at once. Zero is treated as one.
func (b *RequestResponseBuilder[Req, Resp]) MaxLoansPerRequest(n uint32) *RequestResponseBuilder[Req, Resp] {
	b.maxLoans = normalizeCap(n)
	return b
}

// EnableFireAndForget allows sends while no server is attached: the request
// is silently dropped instead of failing. On open, requesting it demands
// the service supports it.
func (b *RequestResponseBuilder[Req, Resp]) EnableFireAndForget(on bool) *RequestResponseBuilder[Req, Resp] {
	b.fireForget = on
	b.setFireForget = true
	return b
}

// Attributes sets the attributes stamped onto the service when this builder
// ends up creating it.
func (b *RequestResponseBuilder[Req, Resp]) Attributes(spec *AttributeSpecifier) *RequestResponseBuilder[Req, Resp] {
	b.attrs = spec
	return b
}

// RequiredAttributes sets attribute requirements checked when this builder
// ends up opening an existing service.
func (b *RequestResponseBuilder[Req, Resp]) RequiredAttributes(v *AttributeVerifier) *RequestResponseBuilder[Req, Resp] {
	b.verifier = v
	return b
}

// Create publishes a new request-response service.
func (b *RequestResponseBuilder[Req, Resp]) Create() (*RequestResponseFactory[Req, Resp], error) {
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
		ServiceID: serviceIDFor(b.name, MessagingPatternRequestResponse),
		Name:      b.name,
		Pattern:   MessagingPatternRequestResponse,
		CreatedAt: time.Now().UTC(),
		MaxNodes:  normalizeCap(b.nodes),
		RequestResponse: &RequestResponseConfig{
			MaxClients:                 normalizeCap(b.clients),
			MaxServers:                 normalizeCap(b.servers),
			MaxActiveRequestsPerClient: normalizeCap(b.maxActive),
			ResponseBufferSize:         normalizeCap(b.respBuffer),
			MaxLoansPerRequest:         normalizeCap(b.maxLoans),
			EnableFireAndForget:        b.fireForget,
			RequestType:                b.reqDetail,
			ResponseType:               b.respDetail,
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
	return &RequestResponseFactory[Req, Resp]{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// Open attaches to an existing request-response service.
func (b *RequestResponseBuilder[Req, Resp]) Open() (*RequestResponseFactory[Req, Resp], error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(b.name); err != nil {
		return nil, err
	}
	svc, err := openService(b.node.st, b.node.cfg, b.name, MessagingPatternRequestResponse, func(sc *StaticConfig) error {
		rc := sc.RequestResponse
		if !rc.RequestType.Matches(b.reqDetail) {
			return fmt.Errorf("%w: service carries %s, caller wants %s", ErrIncompatibleRequestType, rc.RequestType, b.reqDetail)
		}
		if !rc.ResponseType.Matches(b.respDetail) {
			return fmt.Errorf("%w: service carries %s, caller wants %s", ErrIncompatibleResponseType, rc.ResponseType, b.respDetail)
		}
		if err := b.verifier.Verify(sc.Attributes); err != nil {
			return err
		}
		if b.setClients && rc.MaxClients < b.clients {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfClients, rc.MaxClients, b.clients)
		}
		if b.setServers && rc.MaxServers < b.servers {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfServers, rc.MaxServers, b.servers)
		}
		if b.setNodes && sc.MaxNodes < b.nodes {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfNodes, sc.MaxNodes, b.nodes)
		}
		if b.setMaxActive && rc.MaxActiveRequestsPerClient < b.maxActive {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfActiveRequests, rc.MaxActiveRequestsPerClient, b.maxActive)
		}
		if b.setRespBuffer && rc.ResponseBufferSize < b.respBuffer {
			return fmt.Errorf("%w: service buffers %d responses, caller requires %d", ErrDoesNotSupportRequestedMinBufferSize, rc.ResponseBufferSize, b.respBuffer)
		}
		if b.setFireForget && b.fireForget && !rc.EnableFireAndForget {
			return fmt.Errorf("%w: service was created without it", ErrDoesNotSupportFireAndForget)
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
	return &RequestResponseFactory[Req, Resp]{svc: svc, nodeID: [16]byte(b.node.id), nodeSlot: nodeSlot}, nil
}

// OpenOrCreate opens the service when it exists and creates it otherwise.
func (b *RequestResponseBuilder[Req, Resp]) OpenOrCreate() (*RequestResponseFactory[Req, Resp], error) {
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

// RequestResponseFactory is the handle to an attached request-response
// service.
type RequestResponseFactory[Req any, Resp any] struct {
	svc      *service
	nodeID   [16]byte
	nodeSlot uint32
	closer   portCloser
}

// Name returns the service name.
func (f *RequestResponseFactory[Req, Resp]) Name() string { return f.svc.static.Name }

// ID returns the content-derived service id.
func (f *RequestResponseFactory[Req, Resp]) ID() string { return f.svc.static.ServiceID }

// Attributes returns the attribute set stamped at creation.
func (f *RequestResponseFactory[Req, Resp]) Attributes() AttributeSet { return f.svc.static.Attributes }

// StaticConfig returns the service's immutable descriptor. Callers must not
// modify it.
func (f *RequestResponseFactory[Req, Resp]) StaticConfig() *StaticConfig { return f.svc.static }

// NumberOfClients returns the count of currently attached client ports.
func (f *RequestResponseFactory[Req, Resp]) NumberOfClients() int {
	return int(f.svc.dyn.PortCount(layout.RoleClient))
}

// NumberOfServers returns the count of currently attached server ports.
func (f *RequestResponseFactory[Req, Resp]) NumberOfServers() int {
	return int(f.svc.dyn.PortCount(layout.RoleServer))
}

// NumberOfNodes returns the count of currently attached nodes.
func (f *RequestResponseFactory[Req, Resp]) NumberOfNodes() int {
	return int(f.svc.dyn.NodeCount())
}

// ListClients visits every attached client port. Return false to stop.
func (f *RequestResponseFactory[Req, Resp]) ListClients(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleClient, fn)
}

// ListServers visits every attached server port. Return false to stop.
func (f *RequestResponseFactory[Req, Resp]) ListServers(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleServer, fn)
}

// Client starts a client port builder.
func (f *RequestResponseFactory[Req, Resp]) Client() *ClientBuilder[Req, Resp] {
	return &ClientBuilder[Req, Resp]{f: f}
}

// Server starts a server port builder.
func (f *RequestResponseFactory[Req, Resp]) Server() *ServerBuilder[Req, Resp] {
	return &ServerBuilder[Req, Resp]{f: f}
}

// Close releases the factory's reference. Ports built through it stay
// valid.
func (f *RequestResponseFactory[Req, Resp]) Close() error {
	return f.closer.close(func() error {
		f.svc.dyn.ReleaseNode(f.nodeSlot)
		return f.svc.unref()
	})
}
