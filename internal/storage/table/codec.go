package table

// ───────────────────────────────────────────────────────────────────────
// On-disk encoding: table metadata page, page metadata, record slots
// ───────────────────────────────────────────────────────────────────────

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dbcore/storage/internal/storage/storageerr"
)

const (
	columnMetaSize = 4 + 4 + 1 + MaxColumnNameLen + 1 + MaxDefaultLen
)

func encodeTableMeta(m *Meta, buf []byte) {
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], headCanaryTable)
	off += 2

	var nameBuf [MaxTableNameLen]byte
	copy(nameBuf[:], m.Name)
	copy(buf[off:], nameBuf[:])
	off += MaxTableNameLen

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.Columns)))
	off += 4

	for i := 0; i < MaxColumns; i++ {
		var c ColumnDef
		if i < len(m.Columns) {
			c = m.Columns[i]
		}
		encodeColumnMeta(c, buf[off:off+columnMetaSize])
		off += columnMetaSize
	}

	binary.LittleEndian.PutUint16(buf[off:], m.UsedPageCount)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], m.FirstFree)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], tailCanaryTable)
	off += 2

	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(m.PrimaryKey)))
	off += 4
}

func decodeTableMeta(buf []byte) (*Meta, error) {
	off := 0
	head := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if head != headCanaryTable {
		return nil, fmt.Errorf("table metadata head canary: %w", storageerr.ErrReadFailed)
	}

	name := cString(buf[off : off+MaxTableNameLen])
	off += MaxTableNameLen

	numColumns := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if numColumns > MaxColumns {
		return nil, fmt.Errorf("table metadata column count %d: %w", numColumns, storageerr.ErrTooManyColumns)
	}

	columns := make([]ColumnDef, 0, numColumns)
	for i := 0; i < MaxColumns; i++ {
		c := decodeColumnMeta(buf[off : off+columnMetaSize])
		off += columnMetaSize
		if uint32(i) < numColumns {
			columns = append(columns, c)
		}
	}

	usedPages := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	firstFree := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	tail := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if tail != tailCanaryTable {
		return nil, fmt.Errorf("table metadata tail canary: %w", storageerr.ErrReadFailed)
	}

	pk := int(int32(binary.LittleEndian.Uint32(buf[off:])))
	off += 4

	return &Meta{
		Name:          name,
		Columns:       columns,
		UsedPageCount: usedPages,
		FirstFree:     firstFree,
		PrimaryKey:    pk,
	}, nil
}

func encodeColumnMeta(c ColumnDef, buf []byte) {
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(c.Type))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.Size)
	off += 4
	buf[off] = boolByte(c.Nullable)
	off++

	var nameBuf [MaxColumnNameLen]byte
	copy(nameBuf[:], c.Name)
	copy(buf[off:], nameBuf[:])
	off += MaxColumnNameLen

	buf[off] = boolByte(c.HasDefault)
	off++

	var defaultBuf [MaxDefaultLen]byte
	if c.HasDefault {
		encodeValue(c.Type, c.Size, c.Default, defaultBuf[:c.Size])
	}
	copy(buf[off:], defaultBuf[:])
}

func decodeColumnMeta(buf []byte) ColumnDef {
	off := 0
	typ := ColumnType(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	size := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	nullable := buf[off] != 0
	off++
	name := cString(buf[off : off+MaxColumnNameLen])
	off += MaxColumnNameLen
	hasDefault := buf[off] != 0
	off++
	defaultBuf := buf[off : off+MaxDefaultLen]

	c := ColumnDef{Name: name, Type: typ, Size: size, Nullable: nullable, HasDefault: hasDefault}
	if hasDefault {
		c.Default = decodeValue(typ, size, defaultBuf[:size])
	}
	return c
}

type pageMeta struct {
	occupied uint64
	nextFree uint16
}

func writePageMeta(buf []byte, pm pageMeta) {
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], headCanaryPage)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], pm.occupied)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], pm.nextFree)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], tailCanaryPage)
}

func readPageMeta(buf []byte) (pageMeta, error) {
	off := 0
	head := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if head != headCanaryPage {
		return pageMeta{}, fmt.Errorf("page metadata head canary: %w", storageerr.ErrReadFailed)
	}
	occupied := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	nextFree := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	tail := binary.LittleEndian.Uint16(buf[off:])
	if tail != tailCanaryPage {
		return pageMeta{}, fmt.Errorf("page metadata tail canary: %w", storageerr.ErrReadFailed)
	}
	return pageMeta{occupied: occupied, nextFree: nextFree}, nil
}

// fullDataMask returns the bits representing data slots 1..n-1, all set.
func fullDataMask(slotsPerPage int) uint64 {
	if slotsPerPage >= 64 {
		return ^uint64(0) &^ 1
	}
	return ((uint64(1) << uint(slotsPerPage)) - 1) &^ 1
}

func encodeRecord(columns []ColumnDef, values []Value, buf []byte) {
	var nullBitmap uint16
	off := nullBitmapSize
	for i, c := range columns {
		v := values[i]
		if v.IsNull {
			nullBitmap |= 1 << uint(i)
		} else {
			encodeValue(c.Type, c.Size, v, buf[off:off+int(c.Size)])
		}
		off += int(c.Size)
	}
	binary.LittleEndian.PutUint16(buf, nullBitmap)
}

func decodeRecord(columns []ColumnDef, buf []byte) []Value {
	nullBitmap := binary.LittleEndian.Uint16(buf)
	off := nullBitmapSize
	values := make([]Value, len(columns))
	for i, c := range columns {
		if nullBitmap&(1<<uint(i)) != 0 {
			values[i] = Value{IsNull: true}
		} else {
			values[i] = decodeValue(c.Type, c.Size, buf[off:off+int(c.Size)])
		}
		off += int(c.Size)
	}
	return values
}

func encodeValue(t ColumnType, size uint32, v Value, dst []byte) {
	switch t {
	case TypeInt32:
		binary.LittleEndian.PutUint32(dst, uint32(v.Int32))
	case TypeFloat32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v.Float32))
	case TypeVarchar:
		for i := range dst {
			dst[i] = 0
		}
		copy(dst, v.Varchar)
	}
}

func decodeValue(t ColumnType, size uint32, src []byte) Value {
	switch t {
	case TypeInt32:
		return Value{Int32: int32(binary.LittleEndian.Uint32(src))}
	case TypeFloat32:
		return Value{Float32: math.Float32frombits(binary.LittleEndian.Uint32(src))}
	case TypeVarchar:
		n := 0
		for n < len(src) && src[n] != 0 {
			n++
		}
		return Value{Varchar: string(src[:n])}
	}
	return Value{}
}

func cString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
