package engine

import (
	"path/filepath"
	"testing"
)

func TestCreateOpenWriteCloseReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.tbl")

	e := New(Config{})
	if err := e.CreateFile(path); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	fd, err := e.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	h, err := e.GetHandle(fd, 0)
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	copy(h.Buf(), []byte("coordinator round trip"))
	if err := e.MarkDirty(h); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	if err := e.CloseFile(fd); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	fd2, err := e.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	h2, err := e.GetHandle(fd2, 0)
	if err != nil {
		t.Fatalf("GetHandle after reopen: %v", err)
	}
	want := "coordinator round trip"
	if string(h2.Buf()[:len(want)]) != want {
		t.Fatalf("CloseFile did not flush dirty page to disk")
	}
	if err := e.CloseFile(fd2); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
}

func TestMultipleIsolatedEngines(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	pathA := filepath.Join(dirA, "a.tbl")
	pathB := filepath.Join(dirB, "b.tbl")

	ea := New(Config{})
	eb := New(Config{})

	if err := ea.CreateFile(pathA); err != nil {
		t.Fatalf("CreateFile A: %v", err)
	}
	if err := eb.CreateFile(pathB); err != nil {
		t.Fatalf("CreateFile B: %v", err)
	}

	fdA, err := ea.OpenFile(pathA)
	if err != nil {
		t.Fatalf("OpenFile A: %v", err)
	}
	fdB, err := eb.OpenFile(pathB)
	if err != nil {
		t.Fatalf("OpenFile B: %v", err)
	}

	// Descriptors from independent engines may legitimately collide in
	// numeric value; each engine's file manager must still keep them
	// separate.
	if _, err := ea.GetHandle(fdA, 0); err != nil {
		t.Fatalf("GetHandle A: %v", err)
	}
	if _, err := eb.GetHandle(fdB, 0); err != nil {
		t.Fatalf("GetHandle B: %v", err)
	}
}
