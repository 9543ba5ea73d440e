package btreeindex

import (
	"path/filepath"
	"testing"

	"github.com/dbcore/storage/internal/storage/engine"
	"github.com/dbcore/storage/internal/storage/table"
)

func rid(page, slot int32) table.RecordID { return table.RecordID{Page: page, Slot: slot} }

func TestInsertFindRemoveSingle(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	ix, err := Create(eng, filepath.Join(dir, "i.idx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ix.Insert(10, rid(1, 1), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, found, err := ix.Find(10)
	if err != nil || !found {
		t.Fatalf("Find: got=%v found=%v err=%v", got, found, err)
	}
	if got != rid(1, 1) {
		t.Fatalf("Find = %+v, want {1 1}", got)
	}

	if err := ix.Remove(10, rid(1, 1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, _ := ix.Find(10); found {
		t.Fatalf("Find after Remove: still found")
	}
}

func TestInsertDuplicateKeyRejectedWithoutAllowDup(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	ix, err := Create(eng, filepath.Join(dir, "i.idx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ix.Insert(5, rid(1, 1), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Insert(5, rid(1, 2), false); err == nil {
		t.Fatalf("expected duplicate-key rejection")
	}
	if err := ix.Insert(5, rid(1, 2), true); err != nil {
		t.Fatalf("Insert with allowDup: %v", err)
	}
}

// S5 — bulk insert then delete everything, ending with an empty root
// leaf. Scaled down from the production scenario's count for test
// runtime; large enough to force several levels of split and merge.
func TestBulkInsertDeleteEmptiesTree(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	ix, err := Create(eng, filepath.Join(dir, "i.idx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50 * maxEntries
	keys := make([]int32, n)
	for i := 0; i < n; i++ {
		// scramble insertion order so splits occur on both sides of the tree.
		k := int32((i*2654435761 + 1) % n)
		keys[i] = k
		if err := ix.Insert(k, rid(int32(i/1000)+1, int32(i%1000)), true); err != nil {
			t.Fatalf("Insert %d (key=%d): %v", i, k, err)
		}
	}
	if ix.meta.EntryCount != n {
		t.Fatalf("EntryCount = %d, want %d", ix.meta.EntryCount, n)
	}

	for i, k := range keys {
		if err := ix.Remove(k, rid(int32(i/1000)+1, int32(i%1000))); err != nil {
			t.Fatalf("Remove %d (key=%d): %v", i, k, err)
		}
	}
	if ix.meta.EntryCount != 0 {
		t.Fatalf("EntryCount = %d, want 0", ix.meta.EntryCount)
	}

	root, err := ix.readNode(ix.meta.RootNode)
	if err != nil {
		t.Fatalf("readNode(root): %v", err)
	}
	if !root.isLeaf {
		t.Fatalf("root is not a leaf after emptying the tree")
	}
	if len(root.entries) != 0 {
		t.Fatalf("root has %d entries, want 0", len(root.entries))
	}
}

// S6 — range scan over a leaf chain.
func TestIterateRangeOverLeafChain(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	ix, err := Create(eng, filepath.Join(dir, "i.idx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, k := range []int32{1, 3, 5, 7, 9, 11} {
		if err := ix.Insert(k, rid(1, int32(i)), false); err != nil {
			t.Fatalf("Insert %d: %v", k, err)
		}
	}

	var got []int32
	err = ix.IterateRange(4, 10, func(r table.RecordID) bool {
		got = append(got, r.Slot)
		return true
	})
	if err != nil {
		t.Fatalf("IterateRange: %v", err)
	}
	want := []int32{2, 3, 4} // slots of keys 5, 7, 9
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIterateRangeSpansMultipleLeavesAfterSplits(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	ix, err := Create(eng, filepath.Join(dir, "i.idx"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 5 * maxEntries
	for i := 0; i < n; i++ {
		if err := ix.Insert(int32(i), rid(1, int32(i)), false); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	var count int
	err = ix.IterateRange(0, int32(n-1), func(table.RecordID) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("IterateRange: %v", err)
	}
	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
}

func TestCloseAndReopenPreservesIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "i.idx")
	eng := engine.New(engine.Config{})

	ix, err := Create(eng, path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ix.Insert(42, rid(1, 1), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(eng, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, found, err := reopened.Find(42)
	if err != nil || !found || got != rid(1, 1) {
		t.Fatalf("Find after reopen: got=%v found=%v err=%v", got, found, err)
	}
}
