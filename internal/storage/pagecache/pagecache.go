// Package pagecache implements the buffered page cache: a fixed pool of
// 1024 page-sized buffers shared across every open file, evicted in
// least-recently-used order. Callers address pages through Handle
// values rather than raw buffer pointers; once a slot is evicted and
// reused for a different page, every Handle that pointed at its old
// contents is detectably stale.
package pagecache

import (
	"fmt"

	"github.com/dbcore/storage/internal/storage/filemgr"
	"github.com/dbcore/storage/internal/storage/storageerr"
	"github.com/dbcore/storage/internal/storage/telemetry"
)

// NumSlots is the fixed number of buffer slots in the cache.
const NumSlots = 1024

type key struct {
	fd   filemgr.Descriptor
	page int
}

// slot is one buffer frame. It lives on exactly one of the cache's two
// intrusive doubly-linked lists at a time: the free list when unused, or
// the active list (ordered most- to least-recently-used) when holding a
// page.
type slot struct {
	fd         filemgr.Descriptor
	page       int
	buf        [filemgr.PageSize]byte
	dirty      bool
	generation int
	inFile     bool // false until first assigned to a (fd, page)

	prev, next *slot
}

// Handle is a lightweight reference to a cached page. It is valid only
// as long as the slot it names has not been evicted and reused since
// the Handle was issued; Valid reports exactly that.
type Handle struct {
	s          *slot
	generation int
}

// Valid reports whether the slot behind h still holds the same page
// contents it held when h was issued.
func (h Handle) Valid() bool {
	return h.s != nil && h.s.generation == h.generation
}

// Buf returns the page's backing buffer. Callers must check Valid first;
// Buf does not re-validate so that hot paths can validate once and then
// read/write the buffer directly.
func (h Handle) Buf() []byte {
	return h.s.buf[:]
}

// Cache is the fixed-capacity LRU page cache.
type Cache struct {
	slots [NumSlots]slot
	index map[key]*slot

	freeHead, freeTail     *slot
	activeHead, activeTail *slot // activeHead = most recently used

	fm      *filemgr.Manager
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// New creates a Cache with every slot free, backed by fm for eviction
// write-backs and miss loads. log and metrics may be nil.
func New(fm *filemgr.Manager, log *telemetry.Logger, metrics *telemetry.Metrics) *Cache {
	if log == nil {
		log = telemetry.Nop()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	c := &Cache{
		fm:      fm,
		index:   make(map[key]*slot, NumSlots),
		log:     log.Component("pagecache"),
		metrics: metrics,
	}
	for i := range c.slots {
		c.pushFree(&c.slots[i])
	}
	return c
}

// GetHandle returns a Handle for (fd, page), loading it from disk (via
// mayFail=true, since the page may not yet have been written) on a
// cache miss. A miss may evict the current LRU slot, write its dirty
// contents back, and bump its generation — invalidating every
// outstanding Handle into that slot.
func (c *Cache) GetHandle(fd filemgr.Descriptor, page int) (Handle, error) {
	k := key{fd: fd, page: page}
	if s, ok := c.index[k]; ok {
		c.touch(s)
		c.metrics.CacheHits.Inc()
		return Handle{s: s, generation: s.generation}, nil
	}

	c.metrics.CacheMisses.Inc()
	s, err := c.acquireSlot()
	if err != nil {
		return Handle{}, err
	}

	s.fd = fd
	s.page = page
	s.dirty = false
	s.inFile = true
	for i := range s.buf {
		s.buf[i] = 0
	}
	if err := c.fm.ReadPage(fd, page, s.buf[:], true); err != nil {
		c.pushFree(s)
		return Handle{}, fmt.Errorf("pagecache load fd=%v page=%d: %w", fd, page, err)
	}

	c.index[k] = s
	c.pushActiveFront(s)
	c.log.Debug().Int("page", page).Msg("page loaded into cache")
	return Handle{s: s, generation: s.generation}, nil
}

// Renew revalidates h and, if still valid, moves its slot to the front
// of the LRU list. It returns ErrInvalidHandle if the slot has since
// been evicted and reused.
func (c *Cache) Renew(h Handle) (Handle, error) {
	if !h.Valid() {
		return Handle{}, fmt.Errorf("renew: %w", storageerr.ErrInvalidHandle)
	}
	c.touch(h.s)
	return h, nil
}

// MarkDirty flags h's page as modified, so it is written back before
// its slot is reused or the cache is flushed.
func (c *Cache) MarkDirty(h Handle) error {
	if !h.Valid() {
		return fmt.Errorf("mark dirty: %w", storageerr.ErrInvalidHandle)
	}
	h.s.dirty = true
	return nil
}

// OnCloseFile writes back and evicts every cached page belonging to fd.
// The coordinator calls this before asking the file manager to close
// the descriptor, so no dirty page is lost and no stale slot lingers
// under a descriptor value the file manager may reassign.
func (c *Cache) OnCloseFile(fd filemgr.Descriptor) error {
	var toEvict []*slot
	for k, s := range c.index {
		if k.fd == fd {
			toEvict = append(toEvict, s)
		}
	}
	for _, s := range toEvict {
		if err := c.writeBack(s); err != nil {
			return err
		}
		delete(c.index, key{fd: s.fd, page: s.page})
		c.unlinkActive(s)
		s.generation++
		c.pushFree(s)
	}
	return nil
}

// FlushAll writes back every dirty page currently cached, without
// evicting them.
func (c *Cache) FlushAll() error {
	for s := c.activeTail; s != nil; s = s.prev {
		if err := c.writeBack(s); err != nil {
			return err
		}
	}
	return nil
}

// acquireSlot returns a free slot, evicting the LRU active slot first
// if the free list is empty.
func (c *Cache) acquireSlot() (*slot, error) {
	if c.freeHead != nil {
		return c.popFree(), nil
	}
	if c.activeTail == nil {
		return nil, fmt.Errorf("pagecache: no slot available: %w", storageerr.ErrInvalidHandle)
	}

	victim := c.activeTail
	if err := c.writeBack(victim); err != nil {
		return nil, err
	}
	delete(c.index, key{fd: victim.fd, page: victim.page})
	c.unlinkActive(victim)
	victim.generation++
	c.metrics.CacheEvictions.Inc()
	c.log.Debug().Int("page", victim.page).Msg("evicted LRU page")
	return victim, nil
}

func (c *Cache) writeBack(s *slot) error {
	if !s.dirty {
		return nil
	}
	if err := c.fm.WritePage(s.fd, s.page, s.buf[:]); err != nil {
		return fmt.Errorf("pagecache writeback fd=%v page=%d: %w", s.fd, s.page, err)
	}
	s.dirty = false
	c.metrics.DirtyWriteBacks.Inc()
	return nil
}

// touch moves an active slot to the front of the LRU list.
func (c *Cache) touch(s *slot) {
	if c.activeHead == s {
		return
	}
	c.unlinkActive(s)
	c.pushActiveFront(s)
}

func (c *Cache) pushActiveFront(s *slot) {
	s.prev = nil
	s.next = c.activeHead
	if c.activeHead != nil {
		c.activeHead.prev = s
	}
	c.activeHead = s
	if c.activeTail == nil {
		c.activeTail = s
	}
}

func (c *Cache) unlinkActive(s *slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else if c.activeHead == s {
		c.activeHead = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else if c.activeTail == s {
		c.activeTail = s.prev
	}
	s.prev, s.next = nil, nil
}

func (c *Cache) pushFree(s *slot) {
	s.prev = nil
	s.next = c.freeHead
	if c.freeHead != nil {
		c.freeHead.prev = s
	}
	c.freeHead = s
	if c.freeTail == nil {
		c.freeTail = s
	}
}

func (c *Cache) popFree() *slot {
	s := c.freeHead
	c.freeHead = s.next
	if c.freeHead != nil {
		c.freeHead.prev = nil
	} else {
		c.freeTail = nil
	}
	s.prev, s.next = nil, nil
	return s
}
