package btreeindex

// ───────────────────────────────────────────────────────────────────────
// Node layout
// ───────────────────────────────────────────────────────────────────────
//
// Every index node — leaf or inner — occupies exactly one page. A
// discriminator byte tags which variant follows a shared header of
// (parent page, entry count). Both variants reserve one entry slot
// beyond maxEntries as transient overflow room for the instant between
// an insert and the checkOverflow split that follows it.

import (
	"encoding/binary"
	"fmt"

	"github.com/dbcore/storage/internal/storage/storageerr"
	"github.com/dbcore/storage/internal/storage/table"
)

const (
	maxEntries  = 20
	maxChildren = maxEntries + 1 // 21-way
	minChildren = (maxChildren + 1) / 2
	minEntries  = minChildren - 1

	entrySlotCap = maxEntries + 1  // +1 transient overflow slot
	childSlotCap = maxChildren + 1 // +1 transient overflow slot

	entrySize = 4 + 4 + 4 // key + record-id(page,slot)

	nodeHeaderSize = 1 + 4 + 4 // discriminator + parent + entry count
	entriesAreaSize = entrySlotCap * entrySize

	discLeaf  = 0
	discInner = 1
)

// Entry is a (key, record-id) pair stored in an index node.
type Entry struct {
	Key int32
	Rec table.RecordID
}

func entryLess(a, b Entry) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Rec.Less(b.Rec)
}

func entryEqual(a, b Entry) bool {
	return a.Key == b.Key && a.Rec == b.Rec
}

// maxRecordID and minRecordID are search-only sentinels, never stored,
// used to build a probe Entry that sorts after/before every real entry
// sharing a given key.
func maxRecordID() table.RecordID { return table.RecordID{Page: 1<<31 - 1, Slot: 1<<31 - 1} }
func minRecordID() table.RecordID { return table.RecordID{Page: -1 << 31, Slot: -1 << 31} }

// node is the in-memory form of one index page.
type node struct {
	page   int32
	isLeaf bool
	parent int32
	entries []Entry

	// inner only
	children []int32

	// leaf only
	prev, next int32
}

func encodeNode(n *node, buf []byte) {
	off := 0
	if n.isLeaf {
		buf[off] = discLeaf
	} else {
		buf[off] = discInner
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(n.parent))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.entries)))
	off += 4

	for i := 0; i < entrySlotCap; i++ {
		var e Entry
		if i < len(n.entries) {
			e = n.entries[i]
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Key))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Rec.Page))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Rec.Slot))
		off += 4
	}

	if n.isLeaf {
		binary.LittleEndian.PutUint32(buf[off:], uint32(n.prev))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(n.next))
		off += 4
		var validMask uint32
		if c := len(n.entries); c > 0 {
			validMask = uint32(1)<<uint(c) - 1
		}
		binary.LittleEndian.PutUint32(buf[off:], validMask)
		off += 4
		return
	}

	for i := 0; i < childSlotCap; i++ {
		var c int32
		if i < len(n.children) {
			c = n.children[i]
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(c))
		off += 4
	}
}

func decodeNode(buf []byte) (*node, error) {
	off := 0
	disc := buf[off]
	off++
	if disc != discLeaf && disc != discInner {
		return nil, fmt.Errorf("index node discriminator %d: %w", disc, storageerr.ErrReadFailed)
	}
	isLeaf := disc == discLeaf

	parent := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	count := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	entries := make([]Entry, count)
	for i := 0; i < entrySlotCap; i++ {
		key := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		page := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		slot := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if int32(i) < count {
			entries[i] = Entry{Key: key, Rec: table.RecordID{Page: page, Slot: slot}}
		}
	}

	n := &node{isLeaf: isLeaf, parent: parent, entries: entries}

	if isLeaf {
		n.prev = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		n.next = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		// trailing validity mask is always reconstructable from the
		// (compacted) entries slice and is not consulted at runtime.
		return n, nil
	}

	children := make([]int32, count+1)
	for i := 0; i < childSlotCap; i++ {
		c := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if int32(i) < count+1 {
			children[i] = c
		}
	}
	n.children = children
	return n, nil
}

const (
	headCanaryEmpty uint16 = 0xDCDC
	tailCanaryEmpty uint16 = 0xDCDC
)

func encodeEmptyPage(nextPage int32, buf []byte) {
	binary.LittleEndian.PutUint16(buf, headCanaryEmpty)
	binary.LittleEndian.PutUint32(buf[2:], uint32(nextPage))
	binary.LittleEndian.PutUint16(buf[6:], tailCanaryEmpty)
}

func decodeEmptyPage(buf []byte) (int32, error) {
	if binary.LittleEndian.Uint16(buf) != headCanaryEmpty {
		return 0, fmt.Errorf("empty page head canary: %w", storageerr.ErrReadFailed)
	}
	next := int32(binary.LittleEndian.Uint32(buf[2:]))
	if binary.LittleEndian.Uint16(buf[6:]) != tailCanaryEmpty {
		return 0, fmt.Errorf("empty page tail canary: %w", storageerr.ErrReadFailed)
	}
	return next, nil
}
