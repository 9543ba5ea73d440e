package pagecache

import (
	"path/filepath"
	"testing"

	"github.com/dbcore/storage/internal/storage/filemgr"
)

func newTestCache(t *testing.T) (*Cache, *filemgr.Manager, filemgr.Descriptor) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.tbl")

	fm := filemgr.New(nil)
	if err := fm.Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fd, err := fm.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(fm, nil, nil), fm, fd
}

// S1: evicting a slot must invalidate every Handle that referenced it.
func TestEvictionInvalidatesHandle(t *testing.T) {
	c, _, fd := newTestCache(t)

	h0, err := c.GetHandle(fd, 0)
	if err != nil {
		t.Fatalf("GetHandle(0): %v", err)
	}
	if !h0.Valid() {
		t.Fatalf("freshly loaded handle should be valid")
	}

	// Fill every remaining slot with distinct pages, and touch none of
	// them again, so page 0 remains the LRU victim.
	for page := 1; page < NumSlots; page++ {
		if _, err := c.GetHandle(fd, page); err != nil {
			t.Fatalf("GetHandle(%d): %v", page, err)
		}
	}
	if !h0.Valid() {
		t.Fatalf("handle should still be valid while its slot is cached")
	}

	// One more distinct page forces eviction of the current LRU tail,
	// which is page 0's slot.
	if _, err := c.GetHandle(fd, NumSlots); err != nil {
		t.Fatalf("GetHandle(NumSlots): %v", err)
	}
	if h0.Valid() {
		t.Fatalf("handle into evicted slot should be invalid")
	}
}

// S2: touching a page through Renew should move it to the front of the
// LRU order, protecting it from eviction ahead of pages that were
// loaded more recently but never touched again.
func TestLRUOrderingRenewProtectsPage(t *testing.T) {
	c, _, fd := newTestCache(t)

	h0, err := c.GetHandle(fd, 0)
	if err != nil {
		t.Fatalf("GetHandle(0): %v", err)
	}
	h1, err := c.GetHandle(fd, 1)
	if err != nil {
		t.Fatalf("GetHandle(1): %v", err)
	}
	for page := 2; page < NumSlots; page++ {
		if _, err := c.GetHandle(fd, page); err != nil {
			t.Fatalf("GetHandle(%d): %v", page, err)
		}
	}

	// Renew page 0, making page 1 the new LRU tail instead.
	h0, err = c.Renew(h0)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}

	if _, err := c.GetHandle(fd, NumSlots); err != nil {
		t.Fatalf("GetHandle(NumSlots): %v", err)
	}

	if !h0.Valid() {
		t.Fatalf("recently renewed page 0 should survive eviction")
	}
	if h1.Valid() {
		t.Fatalf("page 1 should have become the eviction victim")
	}
}

func TestMarkDirtyWritesBackOnEviction(t *testing.T) {
	c, fm, fd := newTestCache(t)

	h0, err := c.GetHandle(fd, 0)
	if err != nil {
		t.Fatalf("GetHandle(0): %v", err)
	}
	copy(h0.Buf(), []byte("hello, storage engine"))
	if err := c.MarkDirty(h0); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	for page := 1; page <= NumSlots; page++ {
		if _, err := c.GetHandle(fd, page); err != nil {
			t.Fatalf("GetHandle(%d): %v", page, err)
		}
	}
	if h0.Valid() {
		t.Fatalf("expected page 0 to have been evicted")
	}

	buf := make([]byte, filemgr.PageSize)
	if err := fm.ReadPage(fd, 0, buf, false); err != nil {
		t.Fatalf("ReadPage after eviction: %v", err)
	}
	if string(buf[:len("hello, storage engine")]) != "hello, storage engine" {
		t.Fatalf("dirty page was not written back before eviction")
	}
}

func TestOnCloseFileFlushesAndInvalidates(t *testing.T) {
	c, fm, fd := newTestCache(t)

	h, err := c.GetHandle(fd, 0)
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	copy(h.Buf(), []byte("flush me"))
	if err := c.MarkDirty(h); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	if err := c.OnCloseFile(fd); err != nil {
		t.Fatalf("OnCloseFile: %v", err)
	}
	if h.Valid() {
		t.Fatalf("handle should be invalid after OnCloseFile")
	}

	buf := make([]byte, filemgr.PageSize)
	if err := fm.ReadPage(fd, 0, buf, false); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(buf[:len("flush me")]) != "flush me" {
		t.Fatalf("OnCloseFile did not write back dirty page")
	}
}
