package table

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dbcore/storage/internal/storage/engine"
	"github.com/dbcore/storage/internal/storage/storageerr"
)

func intColumn(name string, nullable bool) ColumnDef {
	return ColumnDef{Name: name, Type: TypeInt32, Size: 4, Nullable: nullable}
}

func TestInsertGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	tbl, err := Create(eng, filepath.Join(dir, "t.tbl"), "widgets", []ColumnDef{intColumn("a", false)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	id, err := tbl.Insert([]Value{{Int32: 42}}, 0b1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := tbl.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0].Int32 != 42 {
		t.Fatalf("got %+v, want a=42", got)
	}

	if err := tbl.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := tbl.Get(id); !errors.Is(err, storageerr.ErrBadSlot) {
		t.Fatalf("Get after Remove: expected ErrBadSlot, got %v", err)
	}
}

// S3 — free-page recycling.
func TestFreePageRecycling(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	tbl, err := Create(eng, filepath.Join(dir, "t.tbl"), "widgets", []ColumnDef{intColumn("a", false)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	slotsPerPage := tbl.meta.slotsPerPage()
	total := 2 * (slotsPerPage - 1)
	ids := make([]RecordID, total)
	for i := 0; i < total; i++ {
		id, err := tbl.Insert([]Value{{Int32: int32(i)}}, 0b1)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids[i] = id
	}

	if tbl.meta.UsedPageCount != 3 {
		t.Fatalf("UsedPageCount = %d, want 3", tbl.meta.UsedPageCount)
	}
	if tbl.meta.FirstFree != 3 {
		t.Fatalf("FirstFree = %d, want 3 (no free slots left)", tbl.meta.FirstFree)
	}

	target := RecordID{Page: 1, Slot: 1}
	if err := tbl.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if tbl.meta.FirstFree != 1 {
		t.Fatalf("FirstFree = %d, want 1 after freeing a slot on page 1", tbl.meta.FirstFree)
	}

	id, err := tbl.Insert([]Value{{Int32: 999}}, 0b1)
	if err != nil {
		t.Fatalf("Insert after free: %v", err)
	}
	if id != target {
		t.Fatalf("recycled slot = %+v, want %+v", id, target)
	}
}

// S4 — null and default round-trip.
func TestNullAndDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	columns := []ColumnDef{
		intColumn("a", false),
		{Name: "b", Type: TypeVarchar, Size: 10, Nullable: true, HasDefault: true, Default: Value{Varchar: "x"}},
		intColumn("c", true),
	}
	tbl, err := Create(eng, filepath.Join(dir, "t.tbl"), "widgets", columns)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	id, err := tbl.Insert([]Value{{Int32: 7}, {}, {}}, 0b001)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := tbl.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0].Int32 != 7 {
		t.Fatalf("a = %d, want 7", got[0].Int32)
	}
	if got[1].IsNull || got[1].Varchar != "x" {
		t.Fatalf("b = %+v, want default 'x'", got[1])
	}
	if !got[2].IsNull {
		t.Fatalf("c = %+v, want NULL", got[2])
	}
}

func TestInsertMissingValueNoDefaultNotNullable(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	tbl, err := Create(eng, filepath.Join(dir, "t.tbl"), "widgets", []ColumnDef{intColumn("a", false)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tbl.Insert([]Value{{}}, 0b0); !errors.Is(err, storageerr.ErrValueMissing) {
		t.Fatalf("expected ErrValueMissing, got %v", err)
	}
}

func TestIterateVisitsAllRecords(t *testing.T) {
	dir := t.TempDir()
	eng := engine.New(engine.Config{})
	tbl, err := Create(eng, filepath.Join(dir, "t.tbl"), "widgets", []ColumnDef{intColumn("a", false)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := tbl.Insert([]Value{{Int32: int32(i)}}, 0b1); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	seen := make(map[int32]bool)
	if err := tbl.Iterate(func(_ RecordID, values []Value) bool {
		seen[values[0].Int32] = true
		return true
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("saw %d records, want %d", len(seen), n)
	}
}

func TestCloseAndReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.tbl")
	eng := engine.New(engine.Config{})

	tbl, err := Create(eng, path, "widgets", []ColumnDef{intColumn("a", false)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id, err := tbl.Insert([]Value{{Int32: 123}}, 0b1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(eng, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := reopened.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got[0].Int32 != 123 {
		t.Fatalf("a = %d, want 123", got[0].Int32)
	}
}
