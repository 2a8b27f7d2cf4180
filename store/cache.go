package store

import (
	"github.com/nainya/fixedtree/field"
)

// frame is one resident page buffer. pinned counts outstanding Load
// leases; a frame with pinned > 0 is never evicted. prev/next thread
// the frame into the LRU list.
type frame struct {
	addr   field.Address
	data   []byte
	dirty  bool
	pinned int
	prev   *frame
	next   *frame
}

// pageCache is a bounded, pin-aware LRU of page frames. It never evicts
// a pinned frame; callers that Load more distinct pages than the cache
// can hold while all remain pinned will simply grow the cache rather
// than corrupt a leased buffer. A dirty frame is written back through
// writeback before it is dropped, so eviction never loses a mutation
// that hasn't reached a Flush yet.
type pageCache struct {
	capacity  int
	frames    map[field.Address]*frame
	head      *frame // most recently used
	tail      *frame // least recently used
	stats     Stats
	writeback func(addr field.Address, data []byte) error
}

func newPageCache(capacity int, stats Stats, writeback func(addr field.Address, data []byte) error) *pageCache {
	if stats == nil {
		stats = NopStats{}
	}
	return &pageCache{
		capacity:  capacity,
		frames:    make(map[field.Address]*frame),
		stats:     stats,
		writeback: writeback,
	}
}

// get returns the resident frame for addr, or nil if not cached.
// A hit moves the frame to the front of the LRU list.
func (c *pageCache) get(addr field.Address) *frame {
	f, ok := c.frames[addr]
	if !ok {
		c.stats.CacheMiss()
		return nil
	}
	c.stats.CacheHit()
	c.moveToFront(f)
	return f
}

// insert adds a freshly-read frame to the cache, evicting unpinned
// frames from the tail as needed to stay within capacity.
func (c *pageCache) insert(f *frame) error {
	for len(c.frames) >= c.capacity && c.capacity > 0 {
		evicted, err := c.evictOne()
		if err != nil {
			return err
		}
		if !evicted {
			break // every resident frame is pinned; grow past capacity
		}
	}
	c.frames[f.addr] = f
	c.pushFront(f)
	return nil
}

// evictOne removes the least-recently-used unpinned frame, writing it
// back first if dirty so an eviction can never discard a mutation that
// hasn't reached a Flush yet. It walks from the tail forward since
// pinned frames are rare and usually recent. The bool result reports
// whether a frame was evicted at all.
func (c *pageCache) evictOne() (bool, error) {
	for f := c.tail; f != nil; f = f.prev {
		if f.pinned == 0 {
			if f.dirty && c.writeback != nil {
				if err := c.writeback(f.addr, f.data); err != nil {
					return false, err
				}
			}
			c.unlink(f)
			delete(c.frames, f.addr)
			return true, nil
		}
	}
	return false, nil
}

// remove drops addr from the cache unconditionally, used when a page is
// freed and its buffer must not be handed out again under a stale key.
func (c *pageCache) remove(addr field.Address) {
	f, ok := c.frames[addr]
	if !ok {
		return
	}
	c.unlink(f)
	delete(c.frames, addr)
}

func (c *pageCache) pushFront(f *frame) {
	f.prev = nil
	f.next = c.head
	if c.head != nil {
		c.head.prev = f
	}
	c.head = f
	if c.tail == nil {
		c.tail = f
	}
}

func (c *pageCache) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else if c.head == f {
		c.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else if c.tail == f {
		c.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (c *pageCache) moveToFront(f *frame) {
	if c.head == f {
		return
	}
	c.unlink(f)
	c.pushFront(f)
}

// each calls fn for every resident frame, dirty-first order unspecified.
func (c *pageCache) each(fn func(*frame)) {
	for f := c.head; f != nil; f = f.next {
		fn(f)
	}
}
