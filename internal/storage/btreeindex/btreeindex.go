// Package btreeindex implements the 21-way B+-tree secondary index over
// a 32-bit signed integer key space: equality lookup, range scan, and
// insert/delete with duplicate-key support via same-key entries ordered
// by record-id.
//
// Every node — leaf or inner — lives in exactly one page; parent,
// child, and leaf prev/next links are page indices rather than live
// pointers, since a buffer-pool handle can be invalidated between
// operations. Index structure maintenance (split, borrow, merge)
// therefore works by loading a node fresh from the engine, mutating the
// in-memory copy, and writing it back, never holding two handles across
// an intervening cache access.
package btreeindex

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dbcore/storage/internal/storage/engine"
	"github.com/dbcore/storage/internal/storage/filemgr"
	"github.com/dbcore/storage/internal/storage/storageerr"
	"github.com/dbcore/storage/internal/storage/table"
	"github.com/dbcore/storage/internal/storage/telemetry"
)

const (
	headCanaryMeta uint16 = 0xDADA
	tailCanaryMeta uint16 = 0xDADA

	metaSize = 2 + 4 + 4 + 4 + 4 + 2
)

type meta struct {
	NodeCount     int32
	EntryCount    int32
	FirstFreePage int32
	RootNode      int32
}

func encodeMeta(m meta, buf []byte) {
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], headCanaryMeta)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.NodeCount))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.EntryCount))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.FirstFreePage))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.RootNode))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], tailCanaryMeta)
}

func decodeMeta(buf []byte) (meta, error) {
	off := 0
	if binary.LittleEndian.Uint16(buf[off:]) != headCanaryMeta {
		return meta{}, fmt.Errorf("index metadata head canary: %w", storageerr.ErrReadFailed)
	}
	off += 2
	m := meta{}
	m.NodeCount = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	m.EntryCount = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	m.FirstFreePage = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	m.RootNode = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if binary.LittleEndian.Uint16(buf[off:]) != tailCanaryMeta {
		return meta{}, fmt.Errorf("index metadata tail canary: %w", storageerr.ErrReadFailed)
	}
	return m, nil
}

// Index is an open B+-tree secondary index.
type Index struct {
	eng  *engine.Engine
	fd   filemgr.Descriptor
	meta meta
	log  *telemetry.Logger
}

// Create writes a fresh, empty index: a metadata page plus a single
// empty root leaf.
func Create(eng *engine.Engine, path string) (*Index, error) {
	if err := eng.CreateFile(path); err != nil {
		return nil, err
	}
	fd, err := eng.OpenFile(path)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		eng:  eng,
		fd:   fd,
		meta: meta{NodeCount: 1, EntryCount: 0, FirstFreePage: 0, RootNode: 1},
		log:  telemetry.Nop().Component("btreeindex"),
	}

	root := &node{page: 1, isLeaf: true}
	if err := ix.writeNode(root); err != nil {
		return nil, err
	}
	if err := ix.flushMeta(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Open reads an existing index's metadata page.
func Open(eng *engine.Engine, path string) (*Index, error) {
	fd, err := eng.OpenFile(path)
	if err != nil {
		return nil, err
	}
	h, err := eng.GetHandle(fd, 0)
	if err != nil {
		return nil, err
	}
	m, err := decodeMeta(h.Buf())
	if err != nil {
		return nil, err
	}
	return &Index{eng: eng, fd: fd, meta: m, log: telemetry.Nop().Component("btreeindex")}, nil
}

// Close flushes the metadata page and releases this index's cached
// pages.
func (ix *Index) Close() error {
	if err := ix.flushMeta(); err != nil {
		return err
	}
	return ix.eng.CloseFile(ix.fd)
}

func (ix *Index) flushMeta() error {
	h, err := ix.eng.GetHandle(ix.fd, 0)
	if err != nil {
		return err
	}
	encodeMeta(ix.meta, h.Buf())
	return ix.eng.MarkDirty(h)
}

func (ix *Index) readNode(page int32) (*node, error) {
	h, err := ix.eng.GetHandle(ix.fd, int(page))
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(h.Buf())
	if err != nil {
		return nil, err
	}
	n.page = page
	return n, nil
}

func (ix *Index) writeNode(n *node) error {
	h, err := ix.eng.GetHandle(ix.fd, int(n.page))
	if err != nil {
		return err
	}
	encodeNode(n, h.Buf())
	return ix.eng.MarkDirty(h)
}

// allocatePage pops the freelist stack if non-empty, else bumps the
// high-water mark.
func (ix *Index) allocatePage() (int32, error) {
	if ix.meta.FirstFreePage != 0 {
		page := ix.meta.FirstFreePage
		h, err := ix.eng.GetHandle(ix.fd, int(page))
		if err != nil {
			return 0, err
		}
		next, err := decodeEmptyPage(h.Buf())
		if err != nil {
			return 0, err
		}
		ix.meta.FirstFreePage = next
		return page, nil
	}
	ix.meta.NodeCount++
	return ix.meta.NodeCount, nil
}

func (ix *Index) freePage(page int32) error {
	h, err := ix.eng.GetHandle(ix.fd, int(page))
	if err != nil {
		return err
	}
	encodeEmptyPage(ix.meta.FirstFreePage, h.Buf())
	if err := ix.eng.MarkDirty(h); err != nil {
		return err
	}
	ix.meta.FirstFreePage = page
	return nil
}

// findLeaf descends from the root to the leaf whose range covers
// target, using target's full (key, record-id) tuple as the descent
// comparator so callers can probe for an exact insertion point.
func (ix *Index) findLeaf(target Entry) (*node, error) {
	page := ix.meta.RootNode
	for {
		n, err := ix.readNode(page)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		i := sort.Search(len(n.entries), func(i int) bool { return entryLess(target, n.entries[i]) })
		page = n.children[i]
	}
}

func indexOfChild(parent *node, childPage int32) int {
	for i, c := range parent.children {
		if c == childPage {
			return i
		}
	}
	return -1
}

// Insert adds (key, rid). If allowDup is false and a valid entry for
// key already exists, it fails KeyExists.
func (ix *Index) Insert(key int32, rid table.RecordID, allowDup bool) error {
	if !allowDup {
		_, found, err := ix.Find(key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("insert key=%d: %w", key, storageerr.ErrKeyExists)
		}
	}

	target := Entry{Key: key, Rec: rid}
	leaf, err := ix.findLeaf(target)
	if err != nil {
		return err
	}
	idx := sort.Search(len(leaf.entries), func(i int) bool { return !entryLess(leaf.entries[i], target) })
	leaf.entries = append(leaf.entries, Entry{})
	copy(leaf.entries[idx+1:], leaf.entries[idx:])
	leaf.entries[idx] = target

	ix.meta.EntryCount++
	if err := ix.writeNode(leaf); err != nil {
		return err
	}
	ix.log.Debug().Int32("key", key).Int("leaf", int(leaf.page)).Msg("entry inserted")
	if len(leaf.entries) > maxEntries {
		return ix.checkOverflow(leaf)
	}
	return nil
}

// Remove deletes the exact (key, rid) entry.
func (ix *Index) Remove(key int32, rid table.RecordID) error {
	target := Entry{Key: key, Rec: rid}
	leaf, err := ix.findLeaf(target)
	if err != nil {
		return err
	}
	idx := sort.Search(len(leaf.entries), func(i int) bool { return !entryLess(leaf.entries[i], target) })
	if idx >= len(leaf.entries) || !entryEqual(leaf.entries[idx], target) {
		return fmt.Errorf("remove key=%d: %w", key, storageerr.ErrKeyNotFound)
	}
	leaf.entries = append(leaf.entries[:idx], leaf.entries[idx+1:]...)
	ix.meta.EntryCount--
	if err := ix.writeNode(leaf); err != nil {
		return err
	}
	ix.log.Debug().Int32("key", key).Int("leaf", int(leaf.page)).Msg("entry removed")
	return ix.checkUnderflow(leaf)
}

// Find returns the record-id of the most recently inserted entry under
// key, among non-tombstoned entries. Since physical delete compacts
// entries immediately (see DESIGN.md), every entry present is live;
// "most recent" is approximated by the entry with the greatest
// record-id for that key, which is the last in (key, record-id) order.
func (ix *Index) Find(key int32) (table.RecordID, bool, error) {
	probe := Entry{Key: key, Rec: maxRecordID()}
	leaf, err := ix.findLeaf(probe)
	if err != nil {
		return table.RecordID{}, false, err
	}
	for {
		idx := sort.Search(len(leaf.entries), func(i int) bool { return !entryLess(leaf.entries[i], probe) })
		if idx > 0 && leaf.entries[idx-1].Key == key {
			return leaf.entries[idx-1].Rec, true, nil
		}
		if idx > 0 {
			// entries exist before idx but for a smaller key: key is absent.
			return table.RecordID{}, false, nil
		}
		if leaf.prev == 0 {
			return table.RecordID{}, false, nil
		}
		leaf, err = ix.readNode(leaf.prev)
		if err != nil {
			return table.RecordID{}, false, err
		}
	}
}

// IterateRange emits the record-ids of every entry with lo <= key <= hi
// in ascending (key, record-id) order. fn returning false stops early.
func (ix *Index) IterateRange(lo, hi int32, fn func(table.RecordID) bool) error {
	probe := Entry{Key: lo, Rec: minRecordID()}
	leaf, err := ix.findLeaf(probe)
	if err != nil {
		return err
	}
	idx := sort.Search(len(leaf.entries), func(i int) bool { return !entryLess(leaf.entries[i], probe) })

	for {
		for ; idx < len(leaf.entries); idx++ {
			e := leaf.entries[idx]
			if e.Key > hi {
				return nil
			}
			if !fn(e.Rec) {
				return nil
			}
		}
		if leaf.next == 0 {
			return nil
		}
		leaf, err = ix.readNode(leaf.next)
		if err != nil {
			return err
		}
		idx = 0
	}
}
