package warren

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyluth/warren/internal/layout"
	"github.com/dyluth/warren/internal/shm"
)

// ListenerBuilder builds one listener port.
type ListenerBuilder struct {
	f *EventFactory
}

// Create attaches the listener. It fails with
// ErrExceedsMaxSupportedListeners when every listener slot is taken. Only
// events fired after this call are delivered.
func (b *ListenerBuilder) Create() (*Listener, error) {
	svc := b.f.svc
	if err := svc.ref(); err != nil {
		return nil, err
	}
	id := newPortID()
	// The slot's bitset and signal word are reset inside the claim, before
	// any notifier can see the slot and post into it.
	slot, ok := svc.dyn.ClaimPort(layout.RoleListener, id, b.f.nodeID, 0, svc.ev.ResetSlot)
	if !ok {
		svc.unref()
		return nil, fmt.Errorf("%w: service supports %d", ErrExceedsMaxSupportedListeners, svc.dyn.Capacity(layout.RoleListener))
	}
	return &Listener{svc: svc, id: id, slot: slot, signal: svc.ev.Signal(slot)}, nil
}

// Listener receives events from an event service. A listener belongs to one
// goroutine at a time; the wait calls must not be raced against each other
// or against Close.
type Listener struct {
	svc     *service
	id      [16]byte
	slot    uint32
	signal  *uint32
	pending []uint64
	closed  atomic.Bool
	closer  portCloser
}

// ID returns the port's unique id.
func (l *Listener) ID() string {
	return portIDString(l.id)
}

func (l *Listener) collect() {
	l.svc.ev.Collect(l.slot, func(id uint64) {
		l.pending = append(l.pending, id)
	})
}

func (l *Listener) popPending() (EventID, bool) {
	if len(l.pending) == 0 {
		return 0, false
	}
	id := l.pending[0]
	l.pending = l.pending[1:]
	return EventID(id), true
}

// TryWaitOne returns one pending event id without blocking. The second
// return is false when nothing is pending.
func (l *Listener) TryWaitOne() (EventID, bool, error) {
	if l.closed.Load() {
		return 0, false, fmt.Errorf("%w: listener is closed", ErrPortClosed)
	}
	if id, ok := l.popPending(); ok {
		return id, true, nil
	}
	l.collect()
	id, ok := l.popPending()
	return id, ok, nil
}

// TimedWaitOne blocks until an event arrives or the timeout passes. The
// second return is false when it timed out.
func (l *Listener) TimedWaitOne(timeout time.Duration) (EventID, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		id, ok, err := l.TryWaitOne()
		if ok || err != nil {
			return id, ok, err
		}
		seq := l.svc.ev.SignalValue(l.slot)
		// Recheck: an event posted before seq was read is in the bitset now.
		id, ok, err = l.TryWaitOne()
		if ok || err != nil {
			return id, ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false, nil
		}
		if _, err := shm.TimedWait(l.signal, seq, remaining); err != nil {
			return 0, false, fmt.Errorf("failed to wait for events: %w", err)
		}
	}
}

// BlockingWaitOne blocks until an event arrives.
func (l *Listener) BlockingWaitOne() (EventID, error) {
	for {
		id, ok, err := l.TryWaitOne()
		if err != nil {
			return 0, err
		}
		if ok {
			return id, nil
		}
		seq := l.svc.ev.SignalValue(l.slot)
		id, ok, err = l.TryWaitOne()
		if err != nil {
			return 0, err
		}
		if ok {
			return id, nil
		}
		if err := shm.Wait(l.signal, seq); err != nil {
			return 0, fmt.Errorf("failed to wait for events: %w", err)
		}
	}
}

// TryWaitAll hands every pending event id to fn without blocking, in
// ascending id order per collection round.
func (l *Listener) TryWaitAll(fn func(EventID)) error {
	if l.closed.Load() {
		return fmt.Errorf("%w: listener is closed", ErrPortClosed)
	}
	l.collect()
	for {
		id, ok := l.popPending()
		if !ok {
			return nil
		}
		fn(id)
	}
}

// TimedWaitAll blocks until at least one event arrives or the timeout
// passes, then hands everything pending to fn.
func (l *Listener) TimedWaitAll(fn func(EventID), timeout time.Duration) error {
	id, ok, err := l.TimedWaitOne(timeout)
	if err != nil || !ok {
		return err
	}
	fn(id)
	return l.TryWaitAll(fn)
}

// BlockingWaitAll blocks until at least one event arrives, then hands
// everything pending to fn.
func (l *Listener) BlockingWaitAll(fn func(EventID)) error {
	id, err := l.BlockingWaitOne()
	if err != nil {
		return err
	}
	fn(id)
	return l.TryWaitAll(fn)
}

// EventChannel pumps events into a channel until the context ends. The
// channel closes when the context does; the listener must stay open for as
// long as the pump runs.
func (l *Listener) EventChannel(ctx context.Context) <-chan EventID {
	out := make(chan EventID, 16)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			id, ok, err := l.TimedWaitOne(100 * time.Millisecond)
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close detaches the port.
func (l *Listener) Close() error {
	return l.closer.close(func() error {
		l.closed.Store(true)
		l.svc.dyn.ReleasePort(layout.RoleListener, l.slot)
		return l.svc.unref()
	})
}
