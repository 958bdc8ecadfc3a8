package warren

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
)

// ClientBuilder builds one client port.
type ClientBuilder[Req any, Resp any] struct {
	f *RequestResponseFactory[Req, Resp]
}

// Create attaches the client. It fails with ErrExceedsMaxSupportedClients
// when every client slot is taken.
func (b *ClientBuilder[Req, Resp]) Create() (*Client[Req, Resp], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	slot, ok := svc.dyn.ClaimPort(layout.RoleClient, id, b.f.nodeID, 0, nil)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedClients, svc.dyn.Capacity(layout.RoleClient))
	}
	rc := svc.static.RequestResponse
	return &Client[Req, Resp]{
		svc:        svc,
		id:         id,
		slot:       slot,
		maxActive:  int32(rc.MaxActiveRequestsPerClient),
		fireForget: rc.EnableFireAndForget,
		respSize:   rc.ResponseType.Size,
	}, nil
}

// Client sends requests to every server attached to the service and collects
// their response streams. A client may have up to the service's
// max-active-requests in flight at once; each in-flight request is tracked by
// the PendingResponse returned from Send.
type Client[Req any, Resp any] struct {
	svc         *service
	id          [16]byte
	slot        uint32
	seq         atomic.Uint64
	outstanding atomic.Int32
	maxActive   int32
	fireForget  bool
	respSize    uint64
	closed      atomic.Bool
	closer      portCloser
}

// ID returns the port's unique id.
func (c *Client[Req, Resp]) ID() string {
	return portIDString(c.id)
}

// Loan reserves a request buffer for in-place construction. The loan counts
// against the client's active-request quota until it is sent and its
// PendingResponse closed, or discarded.
func (c *Client[Req, Resp]) Loan() (*RequestMut[Req, Resp], error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: client is closed", ErrPortClosed)
	}
	if c.outstanding.Add(1) > c.maxActive {
		c.outstanding.Add(-1)
		return nil, fmt.Errorf("%w: client supports %d active requests", ErrExceedsMaxLoans, c.maxActive)
	}
	conn, ok := c.svc.rr.ClaimConn()
	if !ok {
		c.outstanding.Add(-1)
		return nil, fmt.Errorf("%w: connection pool exhausted, close finished pending responses", ErrExceedsMaxLoans)
	}
	if err := c.svc.ref(); err != nil {
		conn.Free()
		c.outstanding.Add(-1)
		return nil, err
	}
	conn.SetRequestElems(1)
	return &RequestMut[Req, Resp]{c: c, conn: conn}, nil
}

// SendCopy loans a request buffer, copies value into it and sends it.
func (c *Client[Req, Resp]) SendCopy(value Req) (*PendingResponse[Req, Resp], error) {
	req, err := c.Loan()
	if err != nil {
		return nil, err
	}
	*req.Payload() = value
	return req.Send()
}

// Close detaches the port. Requests already in flight stay valid; their
// PendingResponse handles must still be closed.
func (c *Client[Req, Resp]) Close() error {
	return c.closer.close(func() error {
		c.closed.Store(true)
		c.svc.dyn.ReleasePort(layout.RoleClient, c.slot)
		return c.svc.unref()
	})
}

// RequestMut is a loaned request buffer. Send consumes it; Discard returns
// it unused.
type RequestMut[Req any, Resp any] struct {
	c    *Client[Req, Resp]
	conn *layout.Conn
	done atomic.Bool
}

// Payload returns the request buffer for in-place construction. The pointer
// is only valid until Send or Discard.
func (m *RequestMut[Req, Resp]) Payload() *Req {
	buf := m.conn.RequestBuffer()
	return (*Req)(unsafe.Pointer(&buf[0]))
}

// Send delivers the request to every server attached at this moment and
// returns the PendingResponse tracking it. Without fire-and-forget it fails
// with ErrNoConnectedServers when no server is attached, and with
// ErrBufferFull when every attached server's request buffer is full.
func (m *RequestMut[Req, Resp]) Send() (*PendingResponse[Req, Resp], error) {
	if m.done.Swap(true) {
		return nil, fmt.Errorf("%w: request already sent or discarded", ErrPortClosed)
	}
	c := m.c
	requestID := c.seq.Add(1)

	var targets []uint32
	serverCap := c.svc.dyn.Capacity(layout.RoleServer)
	for i := uint32(0); i < serverCap; i++ {
		if _, ok := c.svc.dyn.PortAt(layout.RoleServer, i); ok {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 && !c.fireForget {
		m.teardown()
		return nil, fmt.Errorf("%w: no server is attached to %q", ErrNoConnectedServers, c.svc.static.Name)
	}

	m.conn.PrepareRequest(requestID, c.id, uint32(len(targets)))
	delivered := 0
	for _, slot := range targets {
		if c.svc.rr.Inbox(slot).Push(m.conn.Index()) {
			delivered++
			continue
		}
		m.conn.DropPeer()
		if m.conn.DropRef() {
			m.conn.Free()
		}
	}
	if delivered != len(targets) {
		m.conn.SetServerConnections(uint32(delivered))
	}
	if delivered == 0 && len(targets) > 0 && !c.fireForget {
		m.teardown()
		return nil, fmt.Errorf("%w: every attached server's request buffer is full", ErrBufferFull)
	}
	return &PendingResponse[Req, Resp]{c: c, conn: m.conn}, nil
}

// Discard returns the loan unused.
func (m *RequestMut[Req, Resp]) Discard() {
	if m.done.Swap(true) {
		return
	}
	m.teardown()
}

func (m *RequestMut[Req, Resp]) teardown() {
	m.conn.Free()
	m.c.outstanding.Add(-1)
	m.c.svc.unref()
}

// PendingResponse tracks one in-flight request: how many servers it reached,
// whether any of them is still working on it, and the stream of responses
// they send back. Closing it tells the servers the client is gone and frees
// the client's active-request slot.
type PendingResponse[Req any, Resp any] struct {
	c      *Client[Req, Resp]
	conn   *layout.Conn
	closed atomic.Bool
	closer portCloser
}

// RequestID returns the client-assigned id of the request.
func (p *PendingResponse[Req, Resp]) RequestID() uint64 {
	return p.conn.RequestID()
}

// NumberOfServerConnections returns how many servers the request was
// delivered to.
func (p *PendingResponse[Req, Resp]) NumberOfServerConnections() int {
	return int(p.conn.ServerConnections())
}

// IsConnected reports whether at least one server still holds the request.
// Once it turns false no further responses can arrive.
func (p *PendingResponse[Req, Resp]) IsConnected() bool {
	return p.conn.PeerCount() > 0
}

// SetDisconnectHint signals the serving side that the client no longer wants
// responses. Servers observe it through ActiveRequest.HasDisconnectHint.
func (p *PendingResponse[Req, Resp]) SetDisconnectHint() {
	p.conn.SetClientHint()
}

// HasDisconnectHint reports whether a server signalled it will not respond.
func (p *PendingResponse[Req, Resp]) HasDisconnectHint() bool {
	return p.conn.ServerHint()
}

// HasResponse reports whether a response is waiting.
func (p *PendingResponse[Req, Resp]) HasResponse() bool {
	if p.closed.Load() {
		return false
	}
	return p.conn.HasResponse()
}

// Receive takes the oldest waiting response. It returns (nil, nil) when none
// is waiting.
func (p *PendingResponse[Req, Resp]) Receive() (*Response[Resp], error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: pending response is closed", ErrPortClosed)
	}
	buf := alignedBytes(p.c.respSize)
	origin, numElems, ok := p.conn.PopResponse(buf)
	if !ok {
		return nil, nil
	}
	return &Response[Resp]{buf: buf, numElems: numElems, origin: portIDString(origin)}, nil
}

// ReceiveWithContext polls for a response until one arrives or ctx is done.
func (p *PendingResponse[Req, Resp]) ReceiveWithContext(ctx context.Context) (*Response[Resp], error) {
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()
	for {
		resp, err := p.Receive()
		if err != nil || resp != nil {
			return resp, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close ends interest in the request. Responses not yet received are
// dropped; servers still holding the request observe the disconnect.
func (p *PendingResponse[Req, Resp]) Close() error {
	return p.closer.close(func() error {
		p.closed.Store(true)
		p.conn.SetClientGone()
		if p.conn.DropRef() {
			p.conn.Free()
		}
		p.c.outstanding.Add(-1)
		return p.c.svc.unref()
	})
}

// Response is one server's answer to a request. The payload is a private
// copy; the response needs no Close.
type Response[Resp any] struct {
	buf      []byte
	numElems uint64
	origin   string
}

// Payload returns the response value.
func (r *Response[Resp]) Payload() *Resp {
	return (*Resp)(unsafe.Pointer(&r.buf[0]))
}

// Origin returns the id of the server port that sent the response.
func (r *Response[Resp]) Origin() string {
	return r.origin
}
