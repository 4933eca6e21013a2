package cache

import "sync"

// segment names one of the four per-class LRU chains from spec.md §4.3.
type segment int

const (
	segHot segment = iota
	segWarm
	segCold
	segTemp
	numSegments
)

func (s segment) String() string {
	switch s {
	case segHot:
		return "HOT"
	case segWarm:
		return "WARM"
	case segCold:
		return "COLD"
	case segTemp:
		return "TEMP"
	}
	return "?"
}

// classLRU holds the four segmented LRU chains for one slab class. The
// LRU lock (mu) is distinct from the item (hash bucket) lock; callers
// must acquire the item lock before the LRU lock, per spec.md §5.
type classLRU struct {
	mu   sync.Mutex
	segs [numSegments]lru

	hotCapBytes  int64
	warmCapBytes int64

	// chunkOwners maps a chunk's address back to the item holding it, so
	// the slab rebalancer (which only knows chunks) can find the item to
	// unlink or rescue. Guarded by mu.
	chunkOwners map[uintptr]*storedItem
}

func newClassLRU() *classLRU {
	c := &classLRU{}
	for i := range c.segs {
		c.segs[i].init()
	}
	return c
}

func (c *classLRU) seg(s segment) *lru { return &c.segs[s] }

// linkNew inserts a freshly linked item at the head of HOT, or TEMP if
// its expiry is within temporaryTTL, per spec.md §4.3 promotion rules.
// Caller must hold the item's bucket lock; linkNew takes the LRU lock
// itself.
func (c *classLRU) linkNew(it *storedItem, now, temporaryTTL int64, tempEnabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tempEnabled && it.exptime != 0 && it.exptime-now <= temporaryTTL {
		it.owner = &c.segs[segTemp]
		c.segs[segTemp].pushFront(it)
		return
	}
	it.owner = &c.segs[segHot]
	c.segs[segHot].pushFront(it)
}

// unlink detaches it from whichever segment currently owns it.
func (c *classLRU) unlink(it *storedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it.owner.detach(it)
}

// touch handles a `get` hit with do_update=true (spec.md §4.3): set
// FETCHED; if already FETCHED, set ACTIVE and move to the head of the
// current segment; a HOT item going ACTIVE is promoted to WARM.
func (c *classLRU) touch(it *storedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it.bits&flagFetched == 0 {
		it.bits |= flagFetched
		return
	}
	wasHot := it.owner == &c.segs[segHot]
	it.bits |= flagActive
	it.setActive()

	cur := it.owner
	cur.detach(it)
	if wasHot {
		it.owner = &c.segs[segWarm]
		c.segs[segWarm].pushFront(it)
		return
	}
	cur.pushFront(it)
}

// enforceCaps demotes HOT overflow into WARM and WARM overflow into COLD
// (losing ACTIVE), per spec.md §4.3. Must be called periodically by the
// LRU maintainer, not on every operation.
func (c *classLRU) enforceCaps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs[segHot].demoteOverflow(c.hotCapBytes, func(n *storedItem) {
		n.owner = &c.segs[segWarm]
		c.segs[segWarm].pushFront(n)
	})
	c.segs[segWarm].demoteOverflow(c.warmCapBytes, func(n *storedItem) {
		n.bits &^= flagActive
		n.clearActive()
		n.owner = &c.segs[segCold]
		c.segs[segCold].pushFront(n)
	})
}

// setCaps updates the byte budgets used by enforceCaps, recomputed by the
// maintainer from the class's current page allocation and the configured
// hot_max_factor/warm_max_factor.
func (c *classLRU) setCaps(hotCap, warmCap int64) {
	c.mu.Lock()
	c.hotCapBytes, c.warmCapBytes = hotCap, warmCap
	c.mu.Unlock()
}
