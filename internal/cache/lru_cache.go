// Package cache provides the bounded LRU cache of open read handles used by
// the file set's descriptor cache (component 4.C). The cache is consulted
// only on read paths; writers always open a fresh handle. On eviction the
// handle is closed, so an evicted entry cannot leak a file descriptor.
package cache

import (
	"container/list"
	"io"
	"sync"
)

// Handle is a cached value that owns an OS resource and must be released
// when the cache evicts it.
type Handle interface {
	io.Closer
}

// FDCache is a thread-safe, count-bounded LRU cache of open file handles
// keyed by file id. Capacity is a number of entries, not a byte charge:
// the file set's descriptor cache is sized in "number of cached read
// handles" (file_chunk_queue_size), not in bytes.
type FDCache struct {
	mu       sync.Mutex
	capacity int
	table    map[uint32]*list.Element
	lru      *list.List
}

type entry struct {
	fileID uint32
	handle Handle
	pinned int
}

// NewFDCache creates a cache that holds at most capacity open handles.
// A non-positive capacity disables caching: every Lookup misses and every
// Insert is evicted immediately after release.
func NewFDCache(capacity int) *FDCache {
	return &FDCache{
		capacity: capacity,
		table:    make(map[uint32]*list.Element),
		lru:      list.New(),
	}
}

// Lookup returns the cached handle for fileID and marks it pinned, or nil
// on a miss. A pinned handle is never evicted; the caller must call
// Release exactly once per successful Lookup or Insert.
func (c *FDCache) Lookup(fileID uint32) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.table[fileID]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	c.lru.MoveToFront(elem)
	e.pinned++
	return e.handle
}

// Insert adds a newly opened handle to the cache, pinned once on behalf of
// the caller. If fileID is already cached the old handle is closed and
// replaced.
func (c *FDCache) Insert(fileID uint32, handle Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[fileID]; ok {
		old := elem.Value.(*entry)
		_ = old.handle.Close()
		old.handle = handle
		old.pinned = 1
		c.lru.MoveToFront(elem)
		return
	}

	e := &entry{fileID: fileID, handle: handle, pinned: 1}
	elem := c.lru.PushFront(e)
	c.table[fileID] = elem

	for c.capacity > 0 && c.lru.Len() > c.capacity {
		if !c.evictOneLocked() {
			break
		}
	}
}

// Release unpins a handle previously returned by Lookup or pinned by
// Insert. Once unpinned it becomes eligible for eviction.
func (c *FDCache) Release(fileID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.table[fileID]
	if !ok {
		return
	}
	e := elem.Value.(*entry)
	if e.pinned > 0 {
		e.pinned--
	}
	if c.capacity <= 0 && e.pinned == 0 {
		delete(c.table, fileID)
		c.lru.Remove(elem)
		_ = e.handle.Close()
	}
}

// Evict removes fileID from the cache and closes its handle, regardless of
// pin state. Used by the file set when a file is unlinked during
// compaction swap-in.
func (c *FDCache) Evict(fileID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.table[fileID]
	if !ok {
		return
	}
	e := elem.Value.(*entry)
	delete(c.table, fileID)
	c.lru.Remove(elem)
	_ = e.handle.Close()
}

// Len returns the number of cached handles.
func (c *FDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close evicts and closes every cached handle.
func (c *FDCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry)
		_ = e.handle.Close()
	}
	c.table = make(map[uint32]*list.Element)
	c.lru.Init()
}

// evictOneLocked evicts the least-recently-used unpinned entry. Returns
// false if every entry is pinned (over-capacity but nothing evictable).
// Must be called with mu held.
func (c *FDCache) evictOneLocked() bool {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		if e.pinned == 0 {
			delete(c.table, e.fileID)
			c.lru.Remove(elem)
			_ = e.handle.Close()
			return true
		}
	}
	return false
}
