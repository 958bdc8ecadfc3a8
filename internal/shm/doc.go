// Package shm provides the shared-memory primitives the warren runtime is
// built on: file-backed segments created exclusively and mapped into the
// process, and futex-based wakeups for blocking waits.
//
// Segments prefer /dev/shm so the backing pages never touch a disk; when it
// is unavailable (non-Linux systems, unusual mount setups) they fall back to
// the configured root directory. All content interpretation lives above this
// package; a segment is just a named, shared, fixed-size byte region.
package shm
