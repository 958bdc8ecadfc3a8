//go:build unix

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PreferredDir is the directory used for segment files when it exists.
// Files under /dev/shm live in memory only, which is what a zero-copy
// transport wants.
const PreferredDir = "/dev/shm"

// Segment is a file-backed shared memory region mapped into this process.
// The same file mapped by several processes yields one set of physical
// pages, so atomic writes through one mapping are visible through all.
type Segment struct {
	name string // file base name, including any prefix
	path string
	data []byte
}

// Dir returns the directory segment files are placed in: PreferredDir when
// present, otherwise fallback.
func Dir(fallback string) string {
	if info, err := os.Stat(PreferredDir); err == nil && info.IsDir() {
		return PreferredDir
	}
	return fallback
}

// Create creates the segment file exclusively, sizes it, and maps it
// read-write. Creation is atomic: when two processes race, exactly one
// observes success and the other os.ErrExist.
func Create(dir, name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", size)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to size segment file to %d bytes: %w", size, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}

	return &Segment{name: name, path: path, data: data}, nil
}

// Open maps an existing segment file read-write. The caller validates the
// content; Open only checks that the file is present and non-empty.
func Open(dir, name string) (*Segment, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	size := int(info.Size())
	if size == 0 {
		return nil, fmt.Errorf("segment file %s is empty", name)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}

	return &Segment{name: name, path: path, data: data}, nil
}

// Name returns the segment's file base name.
func (s *Segment) Name() string { return s.name }

// Path returns the full path of the backing file.
func (s *Segment) Path() string { return s.path }

// Size returns the mapped size in bytes.
func (s *Segment) Size() int { return len(s.data) }

// Bytes returns the mapped region. The slice stays valid until Close.
func (s *Segment) Bytes() []byte { return s.data }

// Pointer returns the base address of the mapping.
func (s *Segment) Pointer() unsafe.Pointer {
	return unsafe.Pointer(&s.data[0])
}

// Close unmaps the region. It does not remove the backing file; the mapping
// of other processes is unaffected. Safe to call twice.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("failed to unmap segment: %w", err)
	}
	return nil
}

// Unlink removes the backing file. Existing mappings keep working until
// their owners close them; new Opens fail afterwards.
func (s *Segment) Unlink() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to unlink segment file: %w", err)
	}
	return nil
}

// Exists reports whether a segment file with the given name is present.
func Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// Remove deletes a segment file by name, ignoring absence.
func Remove(dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove segment file: %w", err)
	}
	return nil
}

// ModTime returns the backing file's modification time, used to detect
// abandoned half-created segments.
func ModTime(dir, name string) (int64, error) {
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}
