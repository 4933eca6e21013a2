package cache

import (
	"sync/atomic"

	"github.com/skipor/memcached/slab"
)

// ReleaseChunk implements slab.PageMover: called once per occupied chunk
// on a page being reassigned to another class (spec.md §4.1 Rebalancer).
// Unreferenced, linked items are unlinked outright; referenced items are
// rescued into a fresh chunk of the same class so the page can still be
// reclaimed without losing live data.
func (c *Cache) ReleaseChunk(classID int, chunk []byte) slab.ChunkDisposition {
	lru := c.lrus[classID]
	lru.mu.Lock()
	it, found := lru.chunkOwners[chunkAddr(chunk)]
	lru.mu.Unlock()
	if !found {
		return slab.ChunkFreed // chunk was already on the free list
	}

	bucket := c.table.LockFor(it.key)
	bucket.Lock()
	defer bucket.Unlock()

	if atomic.LoadInt32(&it.refcount) > 0 {
		newChunk, err := c.alloc.Allocate(classID)
		if err != nil {
			return slab.ChunkBusy
		}
		n := copy(newChunk, it.data)

		lru.mu.Lock()
		delete(lru.chunkOwners, chunkAddr(chunk))
		lru.chunkOwners[chunkAddr(newChunk)] = it
		lru.mu.Unlock()

		it.chunks = [][]byte{newChunk}
		it.data = newChunk[:n]
		atomic.AddUint64(&c.stats.RebalanceRescues, 1)
		return slab.ChunkFreed
	}

	c.table.Remove(it)
	lru.mu.Lock()
	it.owner.detach(it)
	delete(lru.chunkOwners, chunkAddr(chunk))
	lru.mu.Unlock()
	it.bits &^= flagLinked
	atomic.AddInt64(&c.stats.Items, -1)
	atomic.AddUint64(&c.stats.RebalanceEvictions, 1)
	return slab.ChunkFreed
}

// Rebalance asks the slab allocator to move one page from srcClass to
// dstClass, using Cache as the PageMover. Intended to be driven by the
// LRU maintainer's automover pass (spec.md §4.1 "automover policy").
func (c *Cache) Rebalance(srcClass, dstClass int, cfg slab.RebalanceConfig) slab.RebalanceResult {
	result := c.allocator().MovePage(srcClass, dstClass, c, cfg)
	atomic.AddUint64(&c.stats.RebalanceBusyLoops, uint64(result.BusyLoops))
	return result
}

func (c *Cache) allocator() *slab.Allocator { return c.alloc }

// ClassStats exposes the slab allocator's per-class counters for the
// automover and the `stats`/`slabs` commands.
func (c *Cache) ClassStats() []slab.Stats { return c.alloc.Stats() }

// Stats returns a point-in-time snapshot of the cache's counters, backing
// the ASCII `stats` command.
func (c *Cache) Stats() Stats {
	return Stats{
		Gets:               atomic.LoadUint64(&c.stats.Gets),
		GetHits:            atomic.LoadUint64(&c.stats.GetHits),
		GetMisses:          atomic.LoadUint64(&c.stats.GetMisses),
		Sets:               atomic.LoadUint64(&c.stats.Sets),
		Deletes:            atomic.LoadUint64(&c.stats.Deletes),
		DeleteMisses:       atomic.LoadUint64(&c.stats.DeleteMisses),
		CASHits:            atomic.LoadUint64(&c.stats.CASHits),
		CASMisses:          atomic.LoadUint64(&c.stats.CASMisses),
		CASBadval:          atomic.LoadUint64(&c.stats.CASBadval),
		Evictions:          atomic.LoadUint64(&c.stats.Evictions),
		Expired:            atomic.LoadUint64(&c.stats.Expired),
		Items:              atomic.LoadInt64(&c.stats.Items),
		RebalanceRescues:   atomic.LoadUint64(&c.stats.RebalanceRescues),
		RebalanceEvictions: atomic.LoadUint64(&c.stats.RebalanceEvictions),
		RebalanceBusyLoops: atomic.LoadUint64(&c.stats.RebalanceBusyLoops),
	}
}

// MaxBytes reports the configured memory budget, for the `stats` command.
func (c *Cache) MaxBytes() int64 { return c.cfg.MaxBytes }
