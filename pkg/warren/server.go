package warren

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dyluth/warren/internal/layout"
)

// ServerBuilder builds one server port.
type ServerBuilder[Req any, Resp any] struct {
	f *RequestResponseFactory[Req, Resp]
}

// Create attaches the server. It fails with ErrExceedsMaxSupportedServers
// when every server slot is taken.
func (b *ServerBuilder[Req, Resp]) Create() (*Server[Req, Resp], error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	// The inbox is reclaimed and reset inside the claim, before any client
	// can see the slot and deliver into it. Requests a previous occupant
	// left parked still hold references on their connection records.
	slot, ok := svc.dyn.ClaimPort(layout.RoleServer, id, b.f.nodeID, 0, func(slot uint32) {
		reclaimInbox(svc.rr, slot)
		svc.rr.Inbox(slot).Reset()
	})
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedServers, svc.dyn.Capacity(layout.RoleServer))
	}
	return &Server[Req, Resp]{
		svc:      svc,
		id:       id,
		slot:     slot,
		inbox:    svc.rr.Inbox(slot),
		maxLoans: int32(svc.static.RequestResponse.MaxLoansPerRequest),
	}, nil
}

// reclaimInbox empties a server inbox, releasing the references its entries
// hold on connection records. The inbox must be sealed or the slot held
// exclusively.
func reclaimInbox(rr *layout.RR, slot uint32) {
	rr.Inbox(slot).Drain(func(idx uint32) {
		conn := rr.ConnAt(idx)
		conn.DropPeer()
		if conn.DropRef() {
			conn.Free()
		}
	})
}

// Server receives requests from every client attached to the service and
// answers them through the per-request response stream. A Server must stay
// on one goroutine; guard it externally to share it.
type Server[Req any, Resp any] struct {
	svc      *service
	id       [16]byte
	slot     uint32
	inbox    *layout.Inbox
	maxLoans int32
	closed   atomic.Bool
	closer   portCloser
}

// ID returns the port's unique id.
func (s *Server[Req, Resp]) ID() string {
	return portIDString(s.id)
}

// HasRequests reports whether a request is waiting.
func (s *Server[Req, Resp]) HasRequests() bool {
	if s.closed.Load() {
		return false
	}
	return s.inbox.HasEntries()
}

// Receive takes the oldest waiting request. It returns (nil, nil) when none
// is waiting. The caller owns the returned ActiveRequest and must close it.
func (s *Server[Req, Resp]) Receive() (*ActiveRequest[Req, Resp], error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: server is closed", ErrPortClosed)
	}
	idx, ok := s.inbox.Pop()
	if !ok {
		return nil, nil
	}
	conn := s.svc.rr.ConnAt(idx)
	if err := s.svc.ref(); err != nil {
		conn.DropPeer()
		if conn.DropRef() {
			conn.Free()
		}
		return nil, err
	}
	return &ActiveRequest[Req, Resp]{srv: s, conn: conn}, nil
}

// ReceiveWithContext polls for a request until one arrives or ctx is done.
func (s *Server[Req, Resp]) ReceiveWithContext(ctx context.Context) (*ActiveRequest[Req, Resp], error) {
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()
	for {
		req, err := s.Receive()
		if err != nil || req != nil {
			return req, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close detaches the port. Requests not yet received are dropped; requests
// already received stay valid until their ActiveRequest is closed.
func (s *Server[Req, Resp]) Close() error {
	return s.closer.close(func() error {
		s.closed.Store(true)
		// Seal before draining: a client that already saw this port may
		// still be pushing, and an entry landing after the drain would
		// strand its connection record.
		s.inbox.Seal()
		reclaimInbox(s.svc.rr, s.slot)
		s.svc.dyn.ReleasePort(layout.RoleServer, s.slot)
		return s.svc.unref()
	})
}

// ActiveRequest is one received request. It exposes the request payload,
// tracks whether the sending client still waits, and sends responses back.
// Closing it releases the request; the client observes the disconnect.
type ActiveRequest[Req any, Resp any] struct {
	srv    *Server[Req, Resp]
	conn   *layout.Conn
	loans  atomic.Int32
	closed atomic.Bool
	closer portCloser
}

// RequestID returns the client-assigned id of the request.
func (a *ActiveRequest[Req, Resp]) RequestID() uint64 {
	return a.conn.RequestID()
}

// Origin returns the id of the client port that sent the request.
func (a *ActiveRequest[Req, Resp]) Origin() string {
	return portIDString(a.conn.ClientPort())
}

// Payload returns the request value. The pointer is only valid until the
// ActiveRequest is closed.
func (a *ActiveRequest[Req, Resp]) Payload() *Req {
	buf := a.conn.RequestBuffer()
	return (*Req)(unsafe.Pointer(&buf[0]))
}

// IsConnected reports whether the client still waits for responses.
func (a *ActiveRequest[Req, Resp]) IsConnected() bool {
	return a.conn.ClientAlive()
}

// HasDisconnectHint reports whether the client signalled it no longer wants
// responses.
func (a *ActiveRequest[Req, Resp]) HasDisconnectHint() bool {
	return a.conn.ClientHint()
}

// SetDisconnectHint signals the client that this server will not respond.
// Clients observe it through PendingResponse.HasDisconnectHint.
func (a *ActiveRequest[Req, Resp]) SetDisconnectHint() {
	a.conn.SetServerHint()
}

// SendCopy copies value into a response slot and delivers it. It fails with
// ErrConnectionBroken once the client dropped its pending response and with
// ErrResponseBufferFull while the client has not consumed earlier
// responses.
func (a *ActiveRequest[Req, Resp]) SendCopy(value Resp) error {
	if a.closed.Load() {
		return fmt.Errorf("%w: active request is closed", ErrPortClosed)
	}
	if !a.conn.ClientAlive() {
		return fmt.Errorf("%w: client dropped the pending response", ErrConnectionBroken)
	}
	slot, ok := a.conn.ClaimResponse()
	if !ok {
		return fmt.Errorf("%w: client has %d unread responses", ErrResponseBufferFull, a.conn.ServerConnections())
	}
	copy(a.conn.ResponseBuffer(slot), bytesOf(&value))
	a.conn.CommitResponse(slot, a.srv.id, 1)
	return nil
}

// Loan reserves a response slot for in-place construction. The loan counts
// against the service's max-loans-per-request until it is sent or
// discarded. The returned ResponseMut stays valid after the ActiveRequest
// is closed.
func (a *ActiveRequest[Req, Resp]) Loan() (*ResponseMut[Req, Resp], error) {
	if a.closed.Load() {
		return nil, fmt.Errorf("%w: active request is closed", ErrPortClosed)
	}
	if a.loans.Add(1) > a.srv.maxLoans {
		a.loans.Add(-1)
		return nil, fmt.Errorf("%w: service supports %d loans per request", ErrExceedsMaxLoans, a.srv.maxLoans)
	}
	if !a.conn.ClientAlive() {
		a.loans.Add(-1)
		return nil, fmt.Errorf("%w: client dropped the pending response", ErrConnectionBroken)
	}
	slot, ok := a.conn.ClaimResponse()
	if !ok {
		a.loans.Add(-1)
		return nil, fmt.Errorf("%w: client has unread responses", ErrResponseBufferFull)
	}
	if err := a.srv.svc.ref(); err != nil {
		a.conn.AbandonResponse(slot)
		a.loans.Add(-1)
		return nil, err
	}
	a.conn.AddRef()
	return &ResponseMut[Req, Resp]{
		conn:     a.conn,
		serverID: a.srv.id,
		slot:     slot,
		svc:      a.srv.svc,
		loans:    &a.loans,
	}, nil
}

// Close releases the request. The client's connection count drops; once
// every server closed its ActiveRequest the client's PendingResponse
// reports disconnected.
func (a *ActiveRequest[Req, Resp]) Close() error {
	return a.closer.close(func() error {
		a.closed.Store(true)
		a.conn.DropPeer()
		if a.conn.DropRef() {
			a.conn.Free()
		}
		return a.srv.svc.unref()
	})
}

// ResponseMut is a loaned response slot. Send consumes it; Discard returns
// it unused.
type ResponseMut[Req any, Resp any] struct {
	conn     *layout.Conn
	serverID [16]byte
	slot     uint32
	svc      *service
	loans    *atomic.Int32
	done     atomic.Bool
}

// Payload returns the response buffer for in-place construction. The
// pointer is only valid until Send or Discard.
func (m *ResponseMut[Req, Resp]) Payload() *Resp {
	buf := m.conn.ResponseBuffer(m.slot)
	return (*Resp)(unsafe.Pointer(&buf[0]))
}

// Send delivers the response. It fails with ErrConnectionBroken once the
// client dropped its pending response; the loan is released either way.
func (m *ResponseMut[Req, Resp]) Send() error {
	if m.done.Swap(true) {
		return fmt.Errorf("%w: response already sent or discarded", ErrPortClosed)
	}
	if !m.conn.ClientAlive() {
		m.conn.AbandonResponse(m.slot)
		m.release()
		return fmt.Errorf("%w: client dropped the pending response", ErrConnectionBroken)
	}
	m.conn.CommitResponse(m.slot, m.serverID, 1)
	return m.release()
}

// Discard returns the loan unused.
func (m *ResponseMut[Req, Resp]) Discard() {
	if m.done.Swap(true) {
		return
	}
	m.conn.AbandonResponse(m.slot)
	m.release()
}

func (m *ResponseMut[Req, Resp]) release() error {
	m.loans.Add(-1)
	if m.conn.DropRef() {
		m.conn.Free()
	}
	return m.svc.unref()
}
