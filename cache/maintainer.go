package cache

import (
	"sync/atomic"
	"time"

	"github.com/skipor/memcached/log"
	"github.com/skipor/memcached/slab"
)

// MaintainerConfig configures the background LRU maintainer and crawler,
// per spec.md §4.4.
type MaintainerConfig struct {
	Enabled          bool
	IdleSleepMin     time.Duration // 50ms
	IdleSleepMax     time.Duration // 1s
	ColdReclaimBatch int           // bounded count per pass

	CrawlerEnabled    bool
	CrawlerToCrawl    int
	CrawlerSleep      time.Duration // microseconds between items

	RebalanceEnabled     bool
	AutomoveRatio        float64
	AutomoveWindowSize   int
	RebalanceMaxBusyLoop int
}

func (m MaintainerConfig) withDefaults() MaintainerConfig {
	if m.IdleSleepMin <= 0 {
		m.IdleSleepMin = 50 * time.Millisecond
	}
	if m.IdleSleepMax <= 0 {
		m.IdleSleepMax = time.Second
	}
	if m.ColdReclaimBatch <= 0 {
		m.ColdReclaimBatch = 200
	}
	if m.CrawlerToCrawl <= 0 {
		m.CrawlerToCrawl = 100
	}
	if m.RebalanceMaxBusyLoop <= 0 {
		m.RebalanceMaxBusyLoop = 1000
	}
	return m
}

// Maintainer runs the periodic pass described in spec.md §4.4: enforce
// HOT/WARM caps, reclaim expired COLD tails, and optionally dispatch the
// crawler and the slab automover.
type Maintainer struct {
	cache     *Cache
	cfg       MaintainerConfig
	log       log.Logger
	automover *slab.Automover
	stop      chan struct{}
	done      chan struct{}

	// Runtime-adjustable via the ASCII `lru_crawler enable|disable`
	// admin command (spec.md §1); 0/1 instead of bool for atomic access.
	crawlerEnabled int32
}

// SetCrawlerEnabled toggles the background crawler at runtime, backing
// the `lru_crawler enable|disable` admin command.
func (m *Maintainer) SetCrawlerEnabled(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&m.crawlerEnabled, v)
}

func (m *Maintainer) crawlerOn() bool { return atomic.LoadInt32(&m.crawlerEnabled) == 1 }

// IsEnabled reports whether the maintainer thread should run at all,
// backing settings.lru_maintainer_thread (spec.md §6).
func (m *Maintainer) IsEnabled() bool { return m.cfg.Enabled }

// NewMaintainer builds a Maintainer bound to cache.
func NewMaintainer(cache *Cache, cfg MaintainerConfig, logger log.Logger) *Maintainer {
	cfg = cfg.withDefaults()
	m := &Maintainer{
		cache:     cache,
		cfg:       cfg,
		log:       logger,
		automover: slab.NewAutomover(cfg.AutomoveRatio, cfg.AutomoveWindowSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.SetCrawlerEnabled(cfg.CrawlerEnabled)
	return m
}

// Run executes the maintainer loop until Stop is called. Checks the stop
// flag on every iteration for clean shutdown, per spec.md §5.
func (m *Maintainer) Run() {
	defer close(m.done)
	sleep := m.cfg.IdleSleepMin
	for {
		select {
		case <-m.stop:
			return
		case <-time.After(sleep):
		}
		m.pass()
	}
}

// Stop signals the maintainer to exit and waits for it to do so.
func (m *Maintainer) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Maintainer) pass() {
	now := m.cache.clock.Now()
	classStats := m.cache.alloc.Stats()

	for classID, cl := range m.cache.lrus {
		budget := classBudget(classStats, classID)
		cl.setCaps(int64(float64(budget)*m.cache.cfg.HotMaxFactor), int64(float64(budget)*m.cache.cfg.WarmMaxFactor))
		cl.enforceCaps()
		m.reclaimCold(classID, cl, now)
	}

	if m.crawlerOn() {
		m.crawl(now)
	}

	if m.cfg.RebalanceEnabled {
		m.automove()
	}
}

func classBudget(stats []slab.Stats, classID int) int64 {
	for _, s := range stats {
		if s.ClassID == classID {
			return int64(s.ChunksTotal) * int64(s.ChunkSize)
		}
	}
	return 0
}

// reclaimCold walks the tail of classID's COLD segment for a bounded
// count, unlinking items whose exptime is past or whose fetchTime
// predates the flush watermark (spec.md §4.4 step 2).
func (m *Maintainer) reclaimCold(classID int, cl *classLRU, now int64) {
	cl.mu.Lock()
	cold := &cl.segs[segCold]
	var expired []*storedItem
	cold.walkTail(m.cfg.ColdReclaimBatch, func(n *storedItem) bool {
		if n.expired(now) || m.cache.isFlushed(n) {
			expired = append(expired, n)
		}
		return true
	})
	for _, n := range expired {
		cold.detach(n)
		for _, ch := range n.chunks {
			delete(cl.chunkOwners, chunkAddr(ch))
		}
	}
	cl.mu.Unlock()

	for _, n := range expired {
		bucket := m.cache.table.LockFor(n.key)
		bucket.Lock()
		m.cache.table.Remove(n)
		n.bits &^= flagLinked
		bucket.Unlock()
		atomic.AddInt64(&m.cache.stats.Items, -1)
		atomic.AddUint64(&m.cache.stats.Expired, 1)
		m.cache.release(n)
	}
}

// crawl walks every class's LRUs from tail toward head reclaiming
// expired items, bounded by CrawlerToCrawl and sleeping CrawlerSleep
// between items, holding item locks only briefly (spec.md §4.4 step 3).
func (m *Maintainer) crawl(now int64) {
	for classID, cl := range m.cache.lrus {
		for seg := segment(0); seg < numSegments; seg++ {
			select {
			case <-m.stop:
				return
			default:
			}
			m.crawlSegment(classID, cl, seg, now)
		}
	}
}

// crawlSegment walks the segment from tail toward head, advancing a
// cursor by one node per iteration regardless of whether that node was
// reclaimed, so a live item doesn't block the walk from reaching
// expired items further inward (spec.md §4.4 step 3). The cursor is
// re-validated against the segment on every iteration, since it is held
// across lock releases: if another goroutine has since moved it to a
// different segment (HOT->WARM promotion, enforceCaps) or fully
// unlinked it, the walk falls back to restarting from the current tail.
func (m *Maintainer) crawlSegment(classID int, cl *classLRU, seg segment, now int64) {
	crawled := 0
	var cursor *storedItem
	for crawled < m.cfg.CrawlerToCrawl {
		cl.mu.Lock()
		l := &cl.segs[seg]
		n := cursor
		if n == nil || n.owner != l || n.bits&flagLinked == 0 {
			n = l.tail()
		}
		if l.end(n) {
			cl.mu.Unlock()
			return
		}
		next := n.prev
		expired := n.expired(now)
		if expired {
			l.detach(n)
			for _, ch := range n.chunks {
				delete(cl.chunkOwners, chunkAddr(ch))
			}
		}
		cl.mu.Unlock()

		if expired {
			bucket := m.cache.table.LockFor(n.key)
			bucket.Lock()
			m.cache.table.Remove(n)
			n.bits &^= flagLinked
			bucket.Unlock()
			atomic.AddInt64(&m.cache.stats.Items, -1)
			atomic.AddUint64(&m.cache.stats.Expired, 1)
			m.cache.release(n)
		}
		cursor = next
		crawled++
		if m.cfg.CrawlerSleep > 0 {
			time.Sleep(m.cfg.CrawlerSleep)
		}
	}
}

// automove observes per-class eviction rates and, if one class's rate
// dominates another's past the configured ratio, rebalances one page
// from the cold class to the hot one (spec.md §4.1 "automover policy").
func (m *Maintainer) automove() {
	stats := m.cache.alloc.Stats()
	evictions := make([]uint64, len(stats))
	for i, s := range stats {
		evictions[i] = s.Evictions
	}
	src, dst, ok := m.automover.Observe(evictions)
	if !ok {
		return
	}
	m.cache.Rebalance(src, dst, slab.RebalanceConfig{MaxBusyLoops: m.cfg.RebalanceMaxBusyLoop})
}
