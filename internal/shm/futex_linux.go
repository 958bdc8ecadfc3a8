//go:build linux

package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The futex words live in MAP_SHARED segments and are waited on from
// different processes, so the shared (non-private) futex operations are
// required; FUTEX_PRIVATE_FLAG keys on the process and would never wake a
// peer.

// Linux futex operation codes; x/sys/unix does not export these.
const (
	FUTEX_WAIT = 0
	FUTEX_WAKE = 1
)

// Wait blocks until the word at addr no longer holds old, a wakeup arrives,
// or the kernel returns a spurious wake. Callers re-check their condition in
// a loop.
func Wait(addr *uint32, old uint32) error {
	if atomic.LoadUint32(addr) != old {
		return nil
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(FUTEX_WAIT),
		uintptr(old),
		0, 0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// Value already changed, or the sleep was interrupted. Both mean
		// the caller should re-check.
		return nil
	default:
		return errno
	}
}

// TimedWait is Wait with an upper bound. It returns false when the timeout
// expired without a wakeup.
func TimedWait(addr *uint32, old uint32, timeout time.Duration) (bool, error) {
	if atomic.LoadUint32(addr) != old {
		return true, nil
	}
	if timeout <= 0 {
		return false, nil
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(FUTEX_WAIT),
		uintptr(old),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return true, nil
	case unix.ETIMEDOUT:
		return false, nil
	default:
		return false, errno
	}
}

// Wake wakes up to n waiters sleeping on addr.
func Wake(addr *uint32, n int) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(FUTEX_WAKE),
		uintptr(n),
		0, 0, 0,
	)
}
