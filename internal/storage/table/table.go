// Package table implements the record-oriented table store: fixed-width
// tuples laid out in slotted data pages, with per-column nullability,
// declared defaults, and a page-level free-slot freelist threaded
// through page metadata.
package table

import (
	"fmt"

	"github.com/dbcore/storage/internal/storage/engine"
	"github.com/dbcore/storage/internal/storage/filemgr"
	"github.com/dbcore/storage/internal/storage/storageerr"
	"github.com/dbcore/storage/internal/storage/telemetry"
)

const (
	// PageSize is the fixed page size inherited from the file layer.
	PageSize = filemgr.PageSize

	// MaxColumns bounds a table's column count.
	MaxColumns = 16
	// MaxColumnNameLen bounds a column name's stored length.
	MaxColumnNameLen = 64
	// MaxTableNameLen bounds a table name's stored length, including the
	// terminating NUL.
	MaxTableNameLen = 65
	// MaxVarcharLen is the largest declared VARCHAR length.
	MaxVarcharLen = 255
	// MaxDefaultLen is the width reserved for a column's default value.
	MaxDefaultLen = 256

	headCanaryTable uint16 = 0xDDBB
	tailCanaryTable uint16 = 0xDDBB
	headCanaryPage  uint16 = 0xDBDB
	tailCanaryPage  uint16 = 0xDBDB

	noPrimaryKey = -1

	// nullBitmapSize is the width of the per-record null bitmap header.
	nullBitmapSize = 2

	// pageMetaSize is sizeof(PageMeta): head canary, occupation bitmap,
	// next-free link, tail canary. The occupation bitmap is widened to
	// 64 bits here so that the slotsPerPage cap of 64 is reachable; see
	// the Open Question note in DESIGN.md.
	pageMetaSize = 2 + 8 + 2 + 2
)

// ColumnType tags the storage representation of a column.
type ColumnType uint32

const (
	TypeInt32 ColumnType = iota
	TypeFloat32
	TypeVarchar
)

// ColumnDef declares one column of a table.
type ColumnDef struct {
	Name       string
	Type       ColumnType
	Size       uint32 // byte width: 4 for INT32/FLOAT32, n for VARCHAR(n)
	Nullable   bool
	HasDefault bool
	Default    Value
}

// Value is one column's value in a record, in memory.
type Value struct {
	IsNull  bool
	Int32   int32
	Float32 float32
	Varchar string
}

// RecordID identifies a record's physical location.
type RecordID struct {
	Page int32
	Slot int32
}

// NullRecordID is the sentinel "no record" id.
var NullRecordID = RecordID{Page: -1, Slot: -1}

// IsNull reports whether id is the sentinel NullRecordID.
func (id RecordID) IsNull() bool { return id == NullRecordID }

// Less orders record ids lexicographically by (page, slot), the
// ordering the B+-tree index relies on to disambiguate duplicate keys.
func (id RecordID) Less(other RecordID) bool {
	if id.Page != other.Page {
		return id.Page < other.Page
	}
	return id.Slot < other.Slot
}

// Meta is a table's in-memory, page-0-backed metadata.
type Meta struct {
	Name          string
	Columns       []ColumnDef
	UsedPageCount uint16
	FirstFree     uint16
	PrimaryKey    int // column index, or noPrimaryKey
}

func (m *Meta) recordSize() uint32 {
	var n uint32 = nullBitmapSize
	for _, c := range m.Columns {
		n += c.Size
	}
	return n
}

func (m *Meta) slotSize() uint32 {
	return pageMetaSize + m.recordSize()
}

func (m *Meta) slotsPerPage() int {
	n := int(PageSize / m.slotSize())
	if n > 64 {
		n = 64
	}
	return n
}

func (m *Meta) columnIndex(name string) int {
	for i, c := range m.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Table is an open table store: page 0 metadata plus the engine handle
// used to reach its data pages.
type Table struct {
	eng  *engine.Engine
	fd   filemgr.Descriptor
	meta Meta
	log  *telemetry.Logger
}

// Create writes a new table file's metadata page and returns it opened.
func Create(eng *engine.Engine, path string, name string, columns []ColumnDef) (*Table, error) {
	if err := validateColumns(columns); err != nil {
		return nil, err
	}
	if len(name) >= MaxTableNameLen {
		name = name[:MaxTableNameLen-1]
	}

	meta := Meta{Name: name, Columns: columns, UsedPageCount: 1, FirstFree: 1, PrimaryKey: noPrimaryKey}
	if meta.slotSize() > PageSize || meta.slotsPerPage() < 2 {
		return nil, fmt.Errorf("table %s: record size too large for one page: %w", name, storageerr.ErrColumnTooLarge)
	}

	if err := eng.CreateFile(path); err != nil {
		return nil, err
	}
	fd, err := eng.OpenFile(path)
	if err != nil {
		return nil, err
	}

	t := &Table{eng: eng, fd: fd, meta: meta, log: telemetry.Nop().Component("table")}
	h, err := eng.GetHandle(fd, 0)
	if err != nil {
		return nil, err
	}
	encodeTableMeta(&t.meta, h.Buf())
	if err := eng.MarkDirty(h); err != nil {
		return nil, err
	}

	t.log.Debug().Str("table", name).Int("columns", len(columns)).Msg("table created")
	return t, nil
}

// Open reads an existing table file's metadata page.
func Open(eng *engine.Engine, path string) (*Table, error) {
	fd, err := eng.OpenFile(path)
	if err != nil {
		return nil, err
	}
	h, err := eng.GetHandle(fd, 0)
	if err != nil {
		return nil, err
	}
	meta, err := decodeTableMeta(h.Buf())
	if err != nil {
		return nil, err
	}
	return &Table{eng: eng, fd: fd, meta: *meta, log: telemetry.Nop().Component("table")}, nil
}

// Close flushes the metadata page and releases this table's cached
// pages.
func (t *Table) Close() error {
	h, err := t.eng.GetHandle(t.fd, 0)
	if err != nil {
		return err
	}
	encodeTableMeta(&t.meta, h.Buf())
	if err := t.eng.MarkDirty(h); err != nil {
		return err
	}
	return t.eng.CloseFile(t.fd)
}

func validateColumns(columns []ColumnDef) error {
	if len(columns) == 0 || len(columns) > MaxColumns {
		return fmt.Errorf("%d columns: %w", len(columns), storageerr.ErrTooManyColumns)
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c.Name] {
			return fmt.Errorf("column %q: %w", c.Name, storageerr.ErrDuplicateColumn)
		}
		seen[c.Name] = true
		if c.Type == TypeVarchar && (c.Size == 0 || c.Size > MaxVarcharLen) {
			return fmt.Errorf("column %q: varchar size %d: %w", c.Name, c.Size, storageerr.ErrColumnTooLarge)
		}
		if c.Type != TypeVarchar && c.Size != 4 {
			return fmt.Errorf("column %q: fixed-size column must be 4 bytes: %w", c.Name, storageerr.ErrColumnTooLarge)
		}
	}
	return nil
}
