// Package slab implements the size-classed page allocator described in
// spec.md §4.1: a fixed memory budget is partitioned into classes of
// power-scaled chunk sizes, with whole pages moved between classes by a
// background rebalancer under live traffic.
//
// Each class keeps its free chunks in a slice guarded by the class's
// mutex; the page/class/rebalance shape follows
// original_source/memory_rebalance/memcached.c.
package slab

import (
	"sync"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/internal/tag"
)

// ErrOutOfMemory is returned by Allocate when a class is full, the global
// budget is exhausted, and the caller-supplied evictor could not free a
// chunk (see spec.md §4.1 Failure semantics).
var ErrOutOfMemory = stackerr.New("out of memory")

// Evictor is consulted by Allocate when a class needs a chunk and has no
// free page budget left. It must evict the tail of the class's COLD LRU
// and return the now-free chunk, or ok=false if nothing could be evicted
// (all tail items pinned by refcount or too young).
type Evictor interface {
	EvictForClass(classID int) (chunk []byte, ok bool)
}

// Page is one fixed-size contiguous block owned by exactly one class at
// a time.
type Page struct {
	classID int
	mem     []byte
	chunks  [][]byte // views into mem, one per chunk
}

// Class owns whole pages and carves them into equal-sized chunks.
type Class struct {
	mu         sync.Mutex
	id         int
	chunkSize  int
	pages      []*Page
	freeChunks [][]byte
	// Counters, read under mu; exposed via Stats for the automover and
	// the stats command.
	evictions    uint64
	allocs       uint64
	chunksTotal  int
	chunksFree   int
}

// Stats is a point-in-time snapshot of a Class's counters.
type Stats struct {
	ClassID     int
	ChunkSize   int
	Pages       int
	ChunksTotal int
	ChunksFree  int
	Allocs      uint64
	Evictions   uint64
}

// Allocator partitions a fixed memory budget (MaxBytes/PageSize pages)
// across Classes sized by chunkSizeMin * factor^i, rounded up to 8-byte
// alignment, stopping at chunkSizeMax. A dedicated "chunk class" (the
// last one) backs chained (oversized) items, per spec.md §4.1.
type Allocator struct {
	mu          sync.Mutex
	pageSize    int
	maxPages    int
	pagesUsed   int
	classes     []*Class
	evictor     Evictor
	chunkClass  int // index of the class used for chained item bodies
}

// Config configures an Allocator's class geometry and memory budget.
type Config struct {
	MaxBytes      int64
	ChunkSizeMin  int
	Factor        float64
	PageSize      int
	ChunkSizeMax  int
}

// New builds an Allocator. Classes are sized chunkSizeMin, then
// chunkSizeMin*Factor, etc, rounded up to 8 bytes, until ChunkSizeMax is
// reached; the class holding ChunkSizeMax doubles as the "chunk class"
// used for the bodies of chained (oversized) items.
func New(cfg Config, evictor Evictor) *Allocator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1 << 20
	}
	if cfg.Factor <= 1 {
		cfg.Factor = 1.25
	}
	if cfg.ChunkSizeMin <= 0 {
		cfg.ChunkSizeMin = 48
	}
	if cfg.ChunkSizeMax <= 0 {
		cfg.ChunkSizeMax = cfg.PageSize / 2
	}

	a := &Allocator{
		pageSize: cfg.PageSize,
		maxPages: int(cfg.MaxBytes / int64(cfg.PageSize)),
		evictor:  evictor,
	}
	if a.maxPages < 1 {
		a.maxPages = 1
	}

	size := align8(cfg.ChunkSizeMin)
	id := 0
	for size < cfg.ChunkSizeMax {
		a.classes = append(a.classes, &Class{id: id, chunkSize: size})
		id++
		size = align8(int(float64(size) * cfg.Factor))
	}
	// Final/"chunk" class caps at ChunkSizeMax.
	a.classes = append(a.classes, &Class{id: id, chunkSize: cfg.ChunkSizeMax})
	a.chunkClass = id
	return a
}

func align8(n int) int {
	if n%8 != 0 {
		n += 8 - n%8
	}
	return n
}

// NumClasses returns the number of slab classes.
func (a *Allocator) NumClasses() int { return len(a.classes) }

// ChunkClass returns the index of the class used for chained item bodies.
func (a *Allocator) ChunkClass() int { return a.chunkClass }

// ClassForSize returns the smallest class whose chunk size fits n bytes,
// or (0, false) if n exceeds every class's chunk size (caller must chain).
func (a *Allocator) ClassForSize(n int) (int, bool) {
	for i, c := range a.classes {
		if c.chunkSize >= n {
			return i, true
		}
	}
	return 0, false
}

// ChunkSize returns the chunk size of class id.
func (a *Allocator) ChunkSize(id int) int { return a.classes[id].chunkSize }

// Allocate returns a chunk from class id's free list, growing the class
// with a fresh page if global budget allows, or evicting via Evictor
// otherwise. Returns ErrOutOfMemory if none of that can produce a chunk.
func (a *Allocator) Allocate(classID int) ([]byte, error) {
	c := a.classes[classID]
	c.mu.Lock()
	if chunk, ok := c.popFree(); ok {
		c.allocs++
		c.mu.Unlock()
		return chunk, nil
	}
	c.mu.Unlock()

	if page, ok := a.newPage(classID); ok {
		c.mu.Lock()
		c.adoptPage(page)
		chunk, _ := c.popFree()
		c.allocs++
		c.mu.Unlock()
		return chunk, nil
	}

	if a.evictor != nil {
		if chunk, ok := a.evictor.EvictForClass(classID); ok {
			c.mu.Lock()
			c.evictions++
			c.allocs++
			c.mu.Unlock()
			return chunk, nil
		}
	}
	return nil, ErrOutOfMemory
}

// Free returns chunk to class id's free list.
func (a *Allocator) Free(classID int, chunk []byte) {
	c := a.classes[classID]
	c.mu.Lock()
	c.pushFree(chunk)
	c.mu.Unlock()
}

func (a *Allocator) newPage(classID int) (*Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pagesUsed >= a.maxPages {
		return nil, false
	}
	a.pagesUsed++
	return newPage(classID, a.pageSize, a.classes[classID].chunkSize), true
}

func newPage(classID, pageSize, chunkSize int) *Page {
	n := pageSize / chunkSize
	if n < 1 {
		n = 1
	}
	mem := make([]byte, n*chunkSize)
	p := &Page{classID: classID, mem: mem}
	p.chunks = make([][]byte, n)
	for i := 0; i < n; i++ {
		p.chunks[i] = mem[i*chunkSize : (i+1)*chunkSize : (i+1)*chunkSize]
	}
	return p
}

func (c *Class) adoptPage(p *Page) {
	c.pages = append(c.pages, p)
	c.chunksTotal += len(p.chunks)
	for _, chunk := range p.chunks {
		c.freeChunks = append(c.freeChunks, chunk)
	}
	c.chunksFree = len(c.freeChunks)
}

func (c *Class) popFree() ([]byte, bool) {
	if len(c.freeChunks) == 0 {
		return nil, false
	}
	n := len(c.freeChunks) - 1
	chunk := c.freeChunks[n]
	c.freeChunks = c.freeChunks[:n]
	c.chunksFree = len(c.freeChunks)
	return chunk, true
}

func (c *Class) pushFree(chunk []byte) {
	if tag.Debug {
		for _, existing := range c.freeChunks {
			if &existing[0] == &chunk[0] {
				panic("slab: double free")
			}
		}
	}
	c.freeChunks = append(c.freeChunks, chunk)
	c.chunksFree = len(c.freeChunks)
}

// Stats returns a snapshot of every class's counters, used by the `stats`
// command and the automover.
func (a *Allocator) Stats() []Stats {
	out := make([]Stats, len(a.classes))
	for i, c := range a.classes {
		c.mu.Lock()
		out[i] = Stats{
			ClassID:     c.id,
			ChunkSize:   c.chunkSize,
			Pages:       len(c.pages),
			ChunksTotal: c.chunksTotal,
			ChunksFree:  c.chunksFree,
			Allocs:      c.allocs,
			Evictions:   c.evictions,
		}
		c.mu.Unlock()
	}
	return out
}

// PagesUsed reports how many of the global page budget have been handed
// out to classes so far. Used to enforce "sum over classes of pages *
// page_size <= maxbytes" (spec.md §8).
func (a *Allocator) PagesUsed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pagesUsed
}

// PageSize returns the configured page size.
func (a *Allocator) PageSize() int { return a.pageSize }
