package table

import (
	"fmt"
	"math/bits"

	"github.com/dbcore/storage/internal/storage/pagecache"
	"github.com/dbcore/storage/internal/storage/storageerr"
)

// Insert writes a new record. presentMask's bit i set means column i's
// value in values is authoritative; for an unset bit, the column's
// declared default is used if present, else the column must be
// nullable (stored as NULL), else ValueMissing.
func (t *Table) Insert(values []Value, presentMask uint16) (RecordID, error) {
	if len(values) != len(t.meta.Columns) {
		return RecordID{}, fmt.Errorf("insert: %w", storageerr.ErrWrongColumnCount)
	}

	resolved, err := t.resolveValues(values, presentMask)
	if err != nil {
		return RecordID{}, err
	}

	page, slot, err := t.allocateSlot()
	if err != nil {
		return RecordID{}, err
	}

	h, err := t.eng.GetHandle(t.fd, int(page))
	if err != nil {
		return RecordID{}, err
	}
	recOff := int(uint32(slot) * t.meta.slotSize())
	encodeRecord(t.meta.Columns, resolved, h.Buf()[recOff:recOff+int(t.meta.recordSize())])
	if err := t.eng.MarkDirty(h); err != nil {
		return RecordID{}, err
	}

	t.eng.Metrics.TableInserts.Inc()
	t.log.Debug().Int("page", int(page)).Int("slot", int(slot)).Msg("record inserted")
	return RecordID{Page: page, Slot: slot}, nil
}

// Update overwrites only the columns whose presentMask bit is set.
func (t *Table) Update(id RecordID, values []Value, presentMask uint16) error {
	if len(values) != len(t.meta.Columns) {
		return fmt.Errorf("update: %w", storageerr.ErrWrongColumnCount)
	}

	h, pm, slotsPerPage, err := t.loadPage(id.Page)
	if err != nil {
		return err
	}
	if id.Slot < 1 || int(id.Slot) >= slotsPerPage || pm.occupied&(1<<uint(id.Slot)) == 0 {
		return fmt.Errorf("update %v: %w", id, storageerr.ErrBadSlot)
	}

	recOff := int(uint32(id.Slot) * t.meta.slotSize())
	recBuf := h.Buf()[recOff : recOff+int(t.meta.recordSize())]
	current := decodeRecord(t.meta.Columns, recBuf)

	for i, c := range t.meta.Columns {
		if presentMask&(1<<uint(i)) == 0 {
			continue
		}
		v := values[i]
		if v.IsNull && !c.Nullable {
			return fmt.Errorf("update column %q: %w", c.Name, storageerr.ErrNullNotAllowed)
		}
		current[i] = v
	}

	encodeRecord(t.meta.Columns, current, recBuf)
	return t.eng.MarkDirty(h)
}

// Remove clears id's slot bit. If the page was previously full, it is
// prepended to the page freelist.
func (t *Table) Remove(id RecordID) error {
	h, pm, slotsPerPage, err := t.loadPage(id.Page)
	if err != nil {
		return err
	}
	if id.Slot < 1 || int(id.Slot) >= slotsPerPage || pm.occupied&(1<<uint(id.Slot)) == 0 {
		return fmt.Errorf("remove %v: %w", id, storageerr.ErrBadSlot)
	}

	wasFull := pm.occupied&fullDataMask(slotsPerPage) == fullDataMask(slotsPerPage)
	pm.occupied &^= 1 << uint(id.Slot)
	if wasFull {
		pm.nextFree = t.meta.FirstFree
		t.meta.FirstFree = uint16(id.Page)
	}
	writePageMeta(h.Buf(), pm)
	if err := t.eng.MarkDirty(h); err != nil {
		return err
	}
	t.eng.Metrics.TableRemoves.Inc()
	return nil
}

// Get deserializes the record at id.
func (t *Table) Get(id RecordID) ([]Value, error) {
	h, pm, slotsPerPage, err := t.loadPage(id.Page)
	if err != nil {
		return nil, err
	}
	if id.Slot < 1 || int(id.Slot) >= slotsPerPage || pm.occupied&(1<<uint(id.Slot)) == 0 {
		return nil, fmt.Errorf("get %v: %w", id, storageerr.ErrBadSlot)
	}
	recOff := int(uint32(id.Slot) * t.meta.slotSize())
	return decodeRecord(t.meta.Columns, h.Buf()[recOff:recOff+int(t.meta.recordSize())]), nil
}

// Iterate scans every occupied slot in page order, invoking fn once per
// record. fn returning false stops the scan early.
func (t *Table) Iterate(fn func(RecordID, []Value) bool) error {
	slotsPerPage := t.meta.slotsPerPage()
	for page := uint16(1); page < t.meta.UsedPageCount; page++ {
		h, err := t.eng.GetHandle(t.fd, int(page))
		if err != nil {
			return err
		}
		pm, err := readPageMeta(h.Buf())
		if err != nil {
			return err
		}
		for slot := 1; slot < slotsPerPage; slot++ {
			if pm.occupied&(1<<uint(slot)) == 0 {
				continue
			}
			recOff := int(uint32(slot) * t.meta.slotSize())
			values := decodeRecord(t.meta.Columns, h.Buf()[recOff:recOff+int(t.meta.recordSize())])
			if !fn(RecordID{Page: int32(page), Slot: int32(slot)}, values) {
				return nil
			}
		}
	}
	return nil
}

// SetPrimaryKey scans the table for uniqueness on the named column and,
// if satisfied, records its index as the primary key column.
func (t *Table) SetPrimaryKey(name string) error {
	idx := t.meta.columnIndex(name)
	if idx < 0 || t.meta.Columns[idx].Type != TypeInt32 || t.meta.Columns[idx].Nullable {
		return fmt.Errorf("primary key %q: %w", name, storageerr.ErrInvalidPK)
	}

	seen := make(map[int32]bool)
	var dupErr error
	_ = t.Iterate(func(_ RecordID, values []Value) bool {
		v := values[idx]
		if v.IsNull {
			return true
		}
		if seen[v.Int32] {
			dupErr = fmt.Errorf("primary key %q: duplicate value %d: %w", name, v.Int32, storageerr.ErrInvalidPK)
			return false
		}
		seen[v.Int32] = true
		return true
	})
	if dupErr != nil {
		return dupErr
	}

	t.meta.PrimaryKey = idx
	return nil
}

// DropPrimaryKey clears the table's primary key designation.
func (t *Table) DropPrimaryKey() error {
	t.meta.PrimaryKey = noPrimaryKey
	return nil
}

func (t *Table) resolveValues(values []Value, presentMask uint16) ([]Value, error) {
	resolved := make([]Value, len(t.meta.Columns))
	for i, c := range t.meta.Columns {
		switch {
		case presentMask&(1<<uint(i)) != 0:
			v := values[i]
			if v.IsNull && !c.Nullable {
				return nil, fmt.Errorf("column %q: %w", c.Name, storageerr.ErrNullNotAllowed)
			}
			resolved[i] = v
		case c.HasDefault:
			resolved[i] = c.Default
		case c.Nullable:
			resolved[i] = Value{IsNull: true}
		default:
			return nil, fmt.Errorf("column %q: %w", c.Name, storageerr.ErrValueMissing)
		}
	}
	return resolved, nil
}

// allocateSlot finds the next free (page, slot) per the page freelist,
// allocating a new page when the chain is exhausted.
func (t *Table) allocateSlot() (int32, int32, error) {
	slotsPerPage := t.meta.slotsPerPage()

	if t.meta.FirstFree == t.meta.UsedPageCount {
		page := t.meta.UsedPageCount
		h, err := t.eng.GetHandle(t.fd, int(page))
		if err != nil {
			return 0, 0, err
		}
		t.meta.UsedPageCount++
		buf := h.Buf()
		for i := range buf {
			buf[i] = 0
		}
		writePageMeta(buf, pageMeta{occupied: 0b11, nextFree: t.meta.UsedPageCount})
		if err := t.eng.MarkDirty(h); err != nil {
			return 0, 0, err
		}
		return int32(page), 1, nil
	}

	page := t.meta.FirstFree
	h, err := t.eng.GetHandle(t.fd, int(page))
	if err != nil {
		return 0, 0, err
	}
	pm, err := readPageMeta(h.Buf())
	if err != nil {
		return 0, 0, err
	}

	slot := firstFreeDataSlot(pm.occupied, slotsPerPage)
	if slot < 0 {
		return 0, 0, fmt.Errorf("page %d: freelist pointed at a full page: %w", page, storageerr.ErrBadSlot)
	}
	pm.occupied |= 1 << uint(slot)

	if pm.occupied&fullDataMask(slotsPerPage) == fullDataMask(slotsPerPage) {
		t.meta.FirstFree = pm.nextFree
	}
	writePageMeta(h.Buf(), pm)
	if err := t.eng.MarkDirty(h); err != nil {
		return 0, 0, err
	}
	return int32(page), int32(slot), nil
}

func (t *Table) loadPage(page int32) (h pagecache.Handle, pm pageMeta, slotsPerPage int, err error) {
	if page < 1 || uint16(page) >= t.meta.UsedPageCount {
		return pagecache.Handle{}, pageMeta{}, 0, fmt.Errorf("page %d: %w", page, storageerr.ErrBadSlot)
	}
	h, err = t.eng.GetHandle(t.fd, int(page))
	if err != nil {
		return pagecache.Handle{}, pageMeta{}, 0, err
	}
	pm, err = readPageMeta(h.Buf())
	if err != nil {
		return pagecache.Handle{}, pageMeta{}, 0, err
	}
	return h, pm, t.meta.slotsPerPage(), nil
}

func firstFreeDataSlot(occupied uint64, slotsPerPage int) int {
	inverted := ^occupied & fullDataMask(slotsPerPage)
	if inverted == 0 {
		return -1
	}
	return bits.TrailingZeros64(inverted)
}
