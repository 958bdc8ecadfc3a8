//go:build unix && !linux

package shm

import (
	"sync/atomic"
	"time"
)

// Non-Linux systems have no futex; waiters poll the word instead. Wakes are
// no-ops because a poller notices the changed value on its next tick.

const pollInterval = time.Millisecond

// Wait blocks until the word at addr no longer holds old.
func Wait(addr *uint32, old uint32) error {
	for atomic.LoadUint32(addr) == old {
		time.Sleep(pollInterval)
	}
	return nil
}

// TimedWait is Wait with an upper bound. It returns false when the timeout
// expired without the word changing.
func TimedWait(addr *uint32, old uint32, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(addr) == old {
		if !time.Now().Before(deadline) {
			return false, nil
		}
		remaining := time.Until(deadline)
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
	return true, nil
}

// Wake is a no-op; polling waiters observe the new value themselves.
func Wake(addr *uint32, n int) {}
