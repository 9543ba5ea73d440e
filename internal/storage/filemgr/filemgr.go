// Package filemgr implements the fixed-capacity page file manager: it
// owns OS file handles for up to MaxOpenFiles files and reads/writes
// fixed-size pages against them. It is the lowest layer of the storage
// engine core — nothing above it is allowed to touch an *os.File
// directly.
package filemgr

import (
	"fmt"
	"math/bits"
	"os"

	"github.com/dbcore/storage/internal/storage/storageerr"
	"github.com/dbcore/storage/internal/storage/telemetry"
)

const (
	// PageSize is the fixed size, in bytes, of every page in every file.
	PageSize = 8192

	// MaxOpenFiles bounds the open-file table; a 64-bit bitmap tracks
	// which slots are free.
	MaxOpenFiles = 64
)

// Descriptor is a small opaque handle with identity, indexing a slot in
// the open-file table. The zero value names slot 0, which is the first
// slot Open hands out.
type Descriptor struct {
	value int
}

// Valid reports whether d holds a non-negative slot index; the descriptor
// returned by a failed Open is not Valid. It does not report whether d is
// still open.
func (d Descriptor) Valid() bool { return d.value >= 0 }

func (d Descriptor) String() string { return fmt.Sprintf("fd(%d)", d.value) }

type slot struct {
	path string
	file *os.File
}

// Manager owns up to MaxOpenFiles concurrently open files and mediates
// all page-granular reads and writes against them.
type Manager struct {
	slots    [MaxOpenFiles]slot
	freeMask uint64 // bit set => slot is free
	log      *telemetry.Logger
}

// New creates a Manager with every slot free. log may be nil, in which
// case events are discarded.
func New(log *telemetry.Logger) *Manager {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Manager{
		freeMask: ^uint64(0),
		log:      log.Component("filemgr"),
	}
}

// Create makes an empty file at path. It fails with ErrFileExists if the
// path already exists.
func (m *Manager) Create(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create %s: %w", path, storageerr.ErrFileExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("create %s: %w", path, storageerr.ErrCreateFailed)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, storageerr.ErrCreateFailed)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create %s: %w", path, storageerr.ErrCreateFailed)
	}
	m.log.Debug().Str("path", path).Msg("file created")
	return nil
}

// Open opens an existing file and returns a descriptor for it. It fails
// with ErrTooManyOpen if no slot is free, or ErrOpenFailed if the OS
// open call fails.
func (m *Manager) Open(path string) (Descriptor, error) {
	idx := m.allocSlot()
	if idx < 0 {
		return Descriptor{value: -1}, fmt.Errorf("open %s: %w", path, storageerr.ErrTooManyOpen)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		m.freeSlot(idx)
		return Descriptor{value: -1}, fmt.Errorf("open %s: %w", path, storageerr.ErrOpenFailed)
	}

	m.slots[idx] = slot{path: path, file: f}
	m.log.Debug().Str("path", path).Int("fd", idx).Msg("file opened")
	return Descriptor{value: idx}, nil
}

// Close closes the file behind fd and frees its slot.
func (m *Manager) Close(fd Descriptor) error {
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, storageerr.ErrCloseFailed)
	}
	m.slots[fd.value] = slot{}
	m.freeSlot(fd.value)
	m.log.Debug().Str("path", s.path).Int("fd", fd.value).Msg("file closed")
	return nil
}

// Delete removes path from the filesystem. The file must not be open.
func (m *Manager) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, storageerr.ErrDeleteFailed)
	}
	m.log.Debug().Str("path", path).Msg("file deleted")
	return nil
}

// ReadPage reads exactly PageSize bytes at page*PageSize into buf. When
// mayFail is true, a short read caused by reading past the current end
// of file is tolerated silently (buf is left as-is, typically zeroed by
// the caller beforehand) — this lets the page cache populate a
// just-allocated page without the file having been extended yet.
func (m *Manager) ReadPage(fd Descriptor, page int, buf []byte, mayFail bool) error {
	if page < 0 {
		return fmt.Errorf("read page %d: %w", page, storageerr.ErrBadPage)
	}
	if len(buf) != PageSize {
		return fmt.Errorf("read page %d: buffer must be %d bytes, got %d: %w", page, PageSize, len(buf), storageerr.ErrReadFailed)
	}
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}

	n, err := s.file.ReadAt(buf, int64(page)*PageSize)
	if err != nil {
		if mayFail {
			return nil
		}
		return fmt.Errorf("read page %d of %s: %w", page, s.path, storageerr.ErrReadFailed)
	}
	if n != PageSize {
		if mayFail {
			return nil
		}
		return fmt.Errorf("read page %d of %s: short read (%d bytes): %w", page, s.path, n, storageerr.ErrReadFailed)
	}
	return nil
}

// WritePage writes exactly PageSize bytes from buf to page*PageSize.
func (m *Manager) WritePage(fd Descriptor, page int, buf []byte) error {
	if page < 0 {
		return fmt.Errorf("write page %d: %w", page, storageerr.ErrBadPage)
	}
	if len(buf) != PageSize {
		return fmt.Errorf("write page %d: buffer must be %d bytes, got %d: %w", page, PageSize, len(buf), storageerr.ErrWriteFailed)
	}
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}

	n, err := s.file.WriteAt(buf, int64(page)*PageSize)
	if err != nil || n != PageSize {
		return fmt.Errorf("write page %d of %s: %w", page, s.path, storageerr.ErrWriteFailed)
	}
	return nil
}

// Path returns the path a descriptor was opened from.
func (m *Manager) Path(fd Descriptor) (string, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return "", err
	}
	return s.path, nil
}

func (m *Manager) lookup(fd Descriptor) (slot, error) {
	if fd.value < 0 || fd.value >= MaxOpenFiles || (m.freeMask>>uint(fd.value))&1 == 1 {
		return slot{}, fmt.Errorf("descriptor %d: %w", fd.value, storageerr.ErrBadDescriptor)
	}
	return m.slots[fd.value], nil
}

// allocSlot finds the lowest-index free bit, clears it, and returns its
// index, or -1 if the table is full.
func (m *Manager) allocSlot() int {
	if m.freeMask == 0 {
		return -1
	}
	idx := bits.TrailingZeros64(m.freeMask)
	m.freeMask &^= 1 << uint(idx)
	return idx
}

func (m *Manager) freeSlot(idx int) {
	m.freeMask |= 1 << uint(idx)
}
