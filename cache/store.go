package cache

import (
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/facebookgo/stackerr"
	"github.com/skipor/memcached/clock"
	"github.com/skipor/memcached/hashtable"
	"github.com/skipor/memcached/log"
	"github.com/skipor/memcached/slab"
)

// Sentinel errors, compared with errors.Is/unwrap after stackerr.Wrap, in
// the style of conn.go's ErrTooLargeItem/ErrMoreFieldsRequired.
var (
	ErrNotFound    = stackerr.New("not found")
	ErrExists      = stackerr.New("exists")
	ErrNotStored   = stackerr.New("not stored")
	ErrTooLarge    = stackerr.New("object too large for cache")
	ErrNotNumeric  = stackerr.New("cannot increment or decrement non-numeric value")
	ErrOutOfMemory = slab.ErrOutOfMemory
)

// Config configures a Cache's memory budget and policy knobs; field names
// and defaults follow spec.md §6.
type Config struct {
	MaxBytes      int64
	ChunkSizeMin  int
	Factor        float64
	PageSize      int
	ChunkSizeMax  int
	MaxItemSize   int

	UseCAS         bool
	FlushEnabled   bool
	TempLRUEnabled bool
	TemporaryTTL   int64
	HotMaxFactor   float64
	WarmMaxFactor  float64
	TailRepairTime int64

	HashPowerInit int
	NumItemLocks  int
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxBytes:       64 << 20,
		ChunkSizeMin:   48,
		Factor:         1.25,
		PageSize:       1 << 20,
		ChunkSizeMax:   512 << 10,
		MaxItemSize:    1 << 20,
		UseCAS:         true,
		FlushEnabled:   true,
		TempLRUEnabled: false,
		TemporaryTTL:   61,
		HotMaxFactor:   0.2,
		WarmMaxFactor:  2.0,
		TailRepairTime: 60,
		HashPowerInit:  0,
		NumItemLocks:   1024,
	}
}

// Stats mirrors the counters spec.md's `stats` command and §8's testable
// properties care about.
type Stats struct {
	Gets, GetHits, GetMisses   uint64
	Sets, Deletes, DeleteMisses uint64
	CASHits, CASMisses, CASBadval uint64
	Evictions, Expired          uint64
	Items                       int64
	RebalanceRescues            uint64
	RebalanceEvictions           uint64
	RebalanceBusyLoops           uint64
}

// Cache is the item store: hash table + per-class segmented LRUs + slab
// allocator, wired per spec.md §4.3.
type Cache struct {
	cfg   Config
	log   log.Logger
	clock *clock.Clock

	table *hashtable.Table
	alloc *slab.Allocator
	lrus  []*classLRU // index == slab class id

	casCounter uint64 // atomic, monotonic, spec.md §4.3 CAS

	mu         sync.Mutex // guards oldestLive/oldestCAS (flush_all)
	oldestLive int64
	oldestCAS  uint64

	stats Stats // counters updated with atomic ops
}

// New builds a Cache. c must be started by calling clck.Run() by the
// caller (the clock is shared with the server's connection idle timers).
func New(cfg Config, clck *clock.Clock, logger log.Logger) *Cache {
	c := &Cache{
		cfg:   cfg,
		log:   logger,
		clock: clck,
		table: hashtable.New(hashtable.Config{HashPowerInit: cfg.HashPowerInit, NumLocks: cfg.NumItemLocks}),
	}
	c.alloc = slab.New(slab.Config{
		MaxBytes:     cfg.MaxBytes,
		ChunkSizeMin: cfg.ChunkSizeMin,
		Factor:       cfg.Factor,
		PageSize:     cfg.PageSize,
		ChunkSizeMax: cfg.ChunkSizeMax,
	}, c)
	c.lrus = make([]*classLRU, c.alloc.NumClasses())
	for i := range c.lrus {
		c.lrus[i] = newClassLRU()
	}
	return c
}

func chunkAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return (*reflect.SliceHeader)(unsafe.Pointer(&b)).Data
}

// ---- allocation helpers ----

func (c *Cache) allocItem(meta ItemMeta, data []byte) (*storedItem, error) {
	classID, fits := c.alloc.ClassForSize(len(data))
	now := c.clock.Now()
	it := &storedItem{
		key:       append([]byte(nil), meta.Key...),
		flags:     meta.Flags,
		classID:   classID,
		fetchTime: now,
	}
	if meta.Exptime != 0 {
		it.exptime = now + meta.Exptime
	}
	if c.cfg.UseCAS {
		it.bits |= flagCAS
	}

	if fits {
		chunk, err := c.alloc.Allocate(classID)
		if err != nil {
			return nil, err
		}
		n := copy(chunk, data)
		it.chunks = [][]byte{chunk}
		it.data = chunk[:n]
	} else {
		// Chunked item: head carries metadata only, body lives in a chain
		// of chunks drawn from the allocator's dedicated chunk class.
		it.bits |= flagChunked
		it.classID = c.alloc.ChunkClass()
		chunkSize := c.alloc.ChunkSize(it.classID)
		remaining := data
		for len(remaining) > 0 || len(it.chunks) == 0 {
			n := len(remaining)
			if n > chunkSize {
				n = chunkSize
			}
			chunk, err := c.alloc.Allocate(it.classID)
			if err != nil {
				c.freeChunks(it)
				return nil, err
			}
			copy(chunk, remaining[:n])
			it.chunks = append(it.chunks, chunk)
			remaining = remaining[n:]
			if n == 0 {
				break
			}
		}
		it.data = joinChunks(it.chunks, len(data))
	}
	return it, nil
}

func joinChunks(chunks [][]byte, total int) []byte {
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out[:total]
}

func (c *Cache) freeChunks(it *storedItem) {
	for _, chunk := range it.chunks {
		c.alloc.Free(it.classID, chunk)
	}
	it.chunks = nil
}

func (c *Cache) registerChunks(it *storedItem) {
	lru := c.lrus[it.classID]
	lru.mu.Lock()
	if lru.chunkOwners == nil {
		lru.chunkOwners = make(map[uintptr]*storedItem)
	}
	for _, chunk := range it.chunks {
		lru.chunkOwners[chunkAddr(chunk)] = it
	}
	lru.mu.Unlock()
}

func (c *Cache) unregisterChunks(it *storedItem) {
	lru := c.lrus[it.classID]
	lru.mu.Lock()
	for _, chunk := range it.chunks {
		delete(lru.chunkOwners, chunkAddr(chunk))
	}
	lru.mu.Unlock()
}

// link installs it into the hash table and its class's segmented LRU.
// Caller must hold the item lock for it.key.
func (c *Cache) link(it *storedItem) {
	it.cas = atomic.AddUint64(&c.casCounter, 1)
	it.bits |= flagLinked
	c.table.Insert(it)
	c.lrus[it.classID].linkNew(it, c.clock.Now(), c.cfg.TemporaryTTL, c.cfg.TempLRUEnabled)
	c.registerChunks(it)
	atomic.AddInt64(&c.stats.Items, 1)
}

// unlink removes it from the hash table and its LRU chain. Caller must
// hold the item lock for it.key.
func (c *Cache) unlink(it *storedItem) {
	c.table.Remove(it)
	c.lrus[it.classID].unlink(it)
	it.bits &^= flagLinked
	atomic.AddInt64(&c.stats.Items, -1)
}

func (c *Cache) release(it *storedItem) {
	if atomic.AddInt32(&it.refcount, -1) == 0 && it.bits&flagLinked == 0 {
		c.unregisterChunks(it)
		c.freeChunks(it)
	}
}

func (c *Cache) acquire(it *storedItem) { atomic.AddInt32(&it.refcount, 1) }

// liveLookup returns the entry for key if present and not logically
// expired/flushed, deleting it lazily otherwise (spec.md §4.3 "An item
// with exptime... is treated as absent (lookup deletes lazily)"). Caller
// must hold the item lock for key.
func (c *Cache) liveLookup(key []byte) *storedItem {
	e := c.table.Get(key)
	if e == nil {
		return nil
	}
	it := e.(*storedItem)
	now := c.clock.Now()
	if it.expired(now) || c.isFlushed(it) {
		c.unlink(it)
		c.release(it)
		atomic.AddUint64(&c.stats.Expired, 1)
		return nil
	}
	return it
}

func (c *Cache) isFlushed(it *storedItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.oldestLive != 0 && it.fetchTime < c.oldestLive {
		return true
	}
	if c.cfg.UseCAS && c.oldestCAS != 0 && it.cas < c.oldestCAS {
		return true
	}
	return false
}

// ---- EvictForClass: slab.Evictor ----

// EvictForClass evicts the tail of classID's COLD segment, per spec.md
// §4.1's allocate() path (b): unreferenced items evict immediately;
// referenced items are skipped until tail_repair_time has passed, after
// which they're presumed leaked and reclaimed anyway.
func (c *Cache) EvictForClass(classID int) (chunk []byte, ok bool) {
	lru := c.lrus[classID]
	now := c.clock.Now()

	lru.mu.Lock()
	cold := &lru.segs[segCold]
	var victim *storedItem
	n := cold.tail()
	for !cold.end(n) {
		prev := n.prev
		refs := atomic.LoadInt32(&n.refcount)
		if refs <= 0 || now-n.fetchTime > c.cfg.TailRepairTime {
			victim = n
			break
		}
		n = prev
	}
	if victim == nil {
		lru.mu.Unlock()
		return nil, false
	}
	cold.detach(victim)
	for _, ch := range victim.chunks {
		delete(lru.chunkOwners, chunkAddr(ch))
	}
	lru.mu.Unlock() // all chunks deregistered above; the victim's chunks are handed back below without release()

	bucket := c.table.LockFor(victim.key)
	bucket.Lock()
	c.table.Remove(victim)
	victim.bits &^= flagLinked
	bucket.Unlock()
	atomic.AddInt64(&c.stats.Items, -1)
	atomic.AddUint64(&c.stats.Evictions, 1)

	out := victim.chunks[0]
	for _, extra := range victim.chunks[1:] {
		c.alloc.Free(classID, extra)
	}
	victim.chunks = nil
	return out, true
}
